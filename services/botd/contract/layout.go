package contract

import "fmt"

// Absent marks a field that a deployment's event tuple does not carry.
const Absent = -1

// Layout lists the position of every record field inside the non-indexed
// event tuple. Scheduler deployments differ in field order and in which
// fields they emit, so decoding is positional rather than by argument name.
type Layout struct {
	Owner        int
	SourceVault  int
	From         int
	To           int
	Token        int
	RedirectTo   int
	AmountPerSec int
	Amount       int
	Starts       int
	Frequency    int
	ID           int
}

// DefaultWithdrawLayout matches the Withdraw* events of the bundled ABI:
// (owner, llamaPay, from, to, token, redirectTo, amountPerSec, starts, frequency, id).
func DefaultWithdrawLayout() Layout {
	return Layout{
		Owner:        0,
		SourceVault:  1,
		From:         2,
		To:           3,
		Token:        4,
		RedirectTo:   5,
		AmountPerSec: 6,
		Amount:       Absent,
		Starts:       7,
		Frequency:    8,
		ID:           9,
	}
}

// DefaultRedirectLayout matches the Redirect* events of the bundled ABI:
// (from, to, token, amount, starts, frequency, id). The paying owner of a
// redirect is its source account.
func DefaultRedirectLayout() Layout {
	return Layout{
		Owner:        0,
		SourceVault:  Absent,
		From:         0,
		To:           1,
		Token:        2,
		RedirectTo:   Absent,
		AmountPerSec: Absent,
		Amount:       3,
		Starts:       4,
		Frequency:    5,
		ID:           6,
	}
}

// LayoutOverride lists the positions a deployment moves. Omitted fields keep
// the bundled position; Absent drops a field.
type LayoutOverride struct {
	Owner        *int `yaml:"owner" toml:"owner"`
	SourceVault  *int `yaml:"source_vault" toml:"source_vault"`
	From         *int `yaml:"from" toml:"from"`
	To           *int `yaml:"to" toml:"to"`
	Token        *int `yaml:"token" toml:"token"`
	RedirectTo   *int `yaml:"redirect_to" toml:"redirect_to"`
	AmountPerSec *int `yaml:"amount_per_sec" toml:"amount_per_sec"`
	Amount       *int `yaml:"amount" toml:"amount"`
	Starts       *int `yaml:"starts" toml:"starts"`
	Frequency    *int `yaml:"frequency" toml:"frequency"`
	ID           *int `yaml:"id" toml:"id"`
}

// Apply returns base with every listed position replaced.
func (o *LayoutOverride) Apply(base Layout) Layout {
	if o == nil {
		return base
	}
	for _, field := range []struct {
		src *int
		dst *int
	}{
		{o.Owner, &base.Owner},
		{o.SourceVault, &base.SourceVault},
		{o.From, &base.From},
		{o.To, &base.To},
		{o.Token, &base.Token},
		{o.RedirectTo, &base.RedirectTo},
		{o.AmountPerSec, &base.AmountPerSec},
		{o.Amount, &base.Amount},
		{o.Starts, &base.Starts},
		{o.Frequency, &base.Frequency},
		{o.ID, &base.ID},
	} {
		if field.src != nil {
			*field.dst = *field.src
		}
	}
	return base
}

func (l Layout) validate(width int) error {
	required := map[string]int{
		"owner":     l.Owner,
		"starts":    l.Starts,
		"frequency": l.Frequency,
		"id":        l.ID,
	}
	for name, idx := range required {
		if idx < 0 {
			return fmt.Errorf("layout: %s position required", name)
		}
	}
	for name, idx := range map[string]int{
		"owner":          l.Owner,
		"source_vault":   l.SourceVault,
		"from":           l.From,
		"to":             l.To,
		"token":          l.Token,
		"redirect_to":    l.RedirectTo,
		"amount_per_sec": l.AmountPerSec,
		"amount":         l.Amount,
		"starts":         l.Starts,
		"frequency":      l.Frequency,
		"id":             l.ID,
	} {
		if idx < Absent || idx >= width {
			return fmt.Errorf("layout: %s position %d outside tuple of %d", name, idx, width)
		}
	}
	return nil
}
