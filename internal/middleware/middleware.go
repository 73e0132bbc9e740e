// Package middleware implements the downloader middleware chain and the
// stock middlewares wired by the crawl command.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// ErrNoResponse is reported when a downloader returns neither a response nor an error.
var ErrNoResponse = errors.New("downloader returned no response")

type link struct {
	name  string
	req   crawler.RequestProcessor
	resp  crawler.ResponseProcessor
	exc   crawler.ExceptionProcessor
	open  crawler.Opener
	close crawler.Closer
}

// Chain is an ordered list of middlewares whose optional hooks were resolved
// once at construction.
type Chain struct {
	links []link
}

// NewChain detects the hooks each middleware implements. Values that
// implement none of them are kept but never invoked.
func NewChain(middlewares ...any) *Chain {
	c := &Chain{links: make([]link, 0, len(middlewares))}
	for _, m := range middlewares {
		if m == nil {
			continue
		}
		l := link{name: fmt.Sprintf("%T", m)}
		l.req, _ = m.(crawler.RequestProcessor)
		l.resp, _ = m.(crawler.ResponseProcessor)
		l.exc, _ = m.(crawler.ExceptionProcessor)
		l.open, _ = m.(crawler.Opener)
		l.close, _ = m.(crawler.Closer)
		c.links = append(c.links, l)
	}
	return c
}

// Len returns the number of middlewares in the chain.
func (c *Chain) Len() int {
	return len(c.links)
}

// Open runs the open hooks in order and stops at the first failure.
func (c *Chain) Open(ctx context.Context) error {
	for _, l := range c.links {
		if l.open == nil {
			continue
		}
		if err := l.open.Open(ctx); err != nil {
			return fmt.Errorf("open %s: %w", l.name, err)
		}
	}
	return nil
}

// Close runs every close hook exactly once and joins their errors.
func (c *Chain) Close(ctx context.Context) error {
	var errs []error
	for _, l := range c.links {
		if l.close == nil {
			continue
		}
		if err := l.close.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", l.name, err))
		}
	}
	return errors.Join(errs...)
}

// Execute drives one request through the request hooks, the downloader and
// the response/exception hooks. Exactly one of the returns is meaningful: a
// final response, a request to reschedule, or the unrecovered error.
func (c *Chain) Execute(
	ctx context.Context,
	req *crawler.Request,
	dl crawler.Downloader,
) (*crawler.Response, *crawler.Request, error) {
	var (
		resp    *crawler.Response
		subject error
	)

requestPhase:
	for _, l := range c.links {
		if l.req == nil {
			continue
		}
		act, err := guard(l.name, func() (crawler.Action, error) { return l.req.ProcessRequest(ctx, req) })
		if err != nil {
			subject = fmt.Errorf("%s process request: %w", l.name, err)
			break
		}
		switch act.Kind {
		case crawler.ActionRespond:
			if act.Response != nil {
				resp = act.Response
				break requestPhase
			}
		case crawler.ActionReschedule:
			if act.Request != nil {
				return nil, act.Request, nil
			}
		}
	}

	if subject == nil && resp == nil {
		var err error
		resp, err = fetch(ctx, dl, req)
		switch {
		case err != nil:
			subject = err
			resp = nil
		case resp == nil:
			subject = ErrNoResponse
		}
	}

	return c.settle(ctx, req, resp, subject)
}

func (c *Chain) settle(
	ctx context.Context,
	req *crawler.Request,
	resp *crawler.Response,
	subject error,
) (*crawler.Response, *crawler.Request, error) {
	for _, l := range c.links {
		if subject != nil {
			if l.exc == nil {
				continue
			}
			failure := subject
			act, err := guard(l.name, func() (crawler.Action, error) { return l.exc.ProcessException(ctx, req, failure) })
			if err != nil {
				subject = fmt.Errorf("%s process exception: %w", l.name, err)
				continue
			}
			switch act.Kind {
			case crawler.ActionRespond:
				if act.Response != nil {
					resp, subject = act.Response, nil
				}
			case crawler.ActionReschedule:
				if act.Request != nil {
					return nil, act.Request, nil
				}
			}
			continue
		}

		if l.resp == nil {
			continue
		}
		current := resp
		act, err := guard(l.name, func() (crawler.Action, error) { return l.resp.ProcessResponse(ctx, req, current) })
		if err != nil {
			resp, subject = nil, fmt.Errorf("%s process response: %w", l.name, err)
			continue
		}
		switch act.Kind {
		case crawler.ActionRespond:
			if act.Response != nil {
				resp = act.Response
			}
		case crawler.ActionReschedule:
			if act.Request != nil {
				return nil, act.Request, nil
			}
		}
	}

	if subject != nil {
		return nil, nil, subject
	}
	return resp, nil, nil
}

func fetch(ctx context.Context, dl crawler.Downloader, req *crawler.Request) (resp *crawler.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("downloader panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return dl.Fetch(ctx, req)
}

func guard(name string, hook func() (crawler.Action, error)) (act crawler.Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			act, err = crawler.Action{}, fmt.Errorf("%s panicked: %v\n%s", name, r, debug.Stack())
		}
	}()
	return hook()
}
