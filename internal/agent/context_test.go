package agent

import (
	"context"
	"errors"
	"testing"
)

type staticProvider struct {
	text string
	err  error
}

func (p staticProvider) GetContext(context.Context, string) (string, error) {
	return p.text, p.err
}

func TestCompositeContextProvider(t *testing.T) {
	c := NewCompositeContextProvider(quietLogger(),
		staticProvider{text: "first"},
		staticProvider{err: errors.New("broken")},
		staticProvider{},
	)
	c.Add(staticProvider{text: "last"})
	c.Add(nil)

	got, err := c.GetContext(context.Background(), "msg")
	if err != nil {
		t.Fatal(err)
	}
	if got != "first\n\nlast" {
		t.Errorf("GetContext = %q", got)
	}
}

func TestWorkspaceProvider_Empty(t *testing.T) {
	p := NewWorkspaceProvider(func() string { return "" })
	got, _ := p.GetContext(context.Background(), "")
	if got != "" {
		t.Errorf("GetContext = %q, want empty", got)
	}
}
