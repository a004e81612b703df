// Package inference calls the hosted image model.
//
// The service layer only sees the Generator interface. The production
// implementation is ReplicateGenerator; tests substitute a fake.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sakif/imagine/internal/model"
)

// DefaultModel is the hosted model the application generates with.
const DefaultModel = "black-forest-labs/flux-schnell"

// ErrNoImages is returned when the model answered but produced nothing that
// looks like an image URL.
var ErrNoImages = errors.New("inference: model returned no image URLs")

// Error is a failed model call. Its message is the provider's own, which is
// what the user is shown; Model is kept for logs.
type Error struct {
	Model string
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Request is one generation call.
type Request struct {
	Prompt   string
	Settings model.Settings
}

// Generator produces image URLs for a prompt. Implementations must honour
// ctx cancellation and return URLs in the order the model produced them.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]string, error)
}

// NormalizeOutput turns whatever the model returned into a list of absolute
// URLs.
//
// Models answer with either a single string or a list. List items are
// usually strings, but SDKs may wrap them in objects that print as their URL,
// so anything implementing fmt.Stringer is accepted too. Items that do not
// start with "http" are dropped.
func NormalizeOutput(output any) []string {
	var items []any
	switch v := output.(type) {
	case nil:
		return nil
	case []any:
		items = v
	case []string:
		items = make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
	default:
		items = []any{v}
	}

	urls := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		switch v := item.(type) {
		case string:
			s = v
		case fmt.Stringer:
			s = v.String()
		default:
			continue
		}
		if strings.HasPrefix(s, "http") {
			urls = append(urls, s)
		}
	}
	return urls
}
