package cdp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Page is an attached CDP page target. All commands are scoped with the
// target's session id (flattened protocol mode).
type Page struct {
	client    *Client
	sessionID string
}

type targetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	URL      string `json:"url"`
}

// AttachPage attaches to the first page target on the browser, creating
// one if the session has none yet.
func (c *Client) AttachPage(ctx context.Context) (*Page, error) {
	var targets struct {
		TargetInfos []targetInfo `json:"targetInfos"`
	}
	if err := c.Call(ctx, "", "Target.getTargets", nil, &targets); err != nil {
		return nil, err
	}

	var targetID string
	for _, t := range targets.TargetInfos {
		if t.Type == "page" {
			targetID = t.TargetID
			break
		}
	}
	if targetID == "" {
		var created struct {
			TargetID string `json:"targetId"`
		}
		err := c.Call(ctx, "", "Target.createTarget",
			map[string]any{"url": "about:blank"}, &created)
		if err != nil {
			return nil, err
		}
		targetID = created.TargetID
	}

	var attached struct {
		SessionID string `json:"sessionId"`
	}
	err := c.Call(ctx, "", "Target.attachToTarget",
		map[string]any{"targetId": targetID, "flatten": true}, &attached)
	if err != nil {
		return nil, err
	}

	p := &Page{client: c, sessionID: attached.SessionID}
	if err := c.Call(ctx, p.sessionID, "Page.enable", nil, nil); err != nil {
		return nil, err
	}
	return p, nil
}

// Navigate loads url and blocks until the requested lifecycle event
// fires. waitEvent is a Page domain event name, e.g.
// "Page.domContentEventFired" or "Page.loadEventFired".
func (p *Page) Navigate(ctx context.Context, url, waitEvent string) error {
	// Subscribe before issuing the command so a fast navigation cannot
	// fire the event between the call and the wait.
	events, cancel := p.client.Subscribe(p.sessionID, waitEvent)
	defer cancel()

	var nav struct {
		FrameID   string `json:"frameId"`
		ErrorText string `json:"errorText"`
	}
	err := p.client.Call(ctx, p.sessionID, "Page.navigate",
		map[string]any{"url": url}, &nav)
	if err != nil {
		return err
	}
	if nav.ErrorText != "" {
		return fmt.Errorf("cdp: navigate %s: %s", url, nav.ErrorText)
	}

	select {
	case <-events:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Evaluate runs a JavaScript expression in the page and decodes its
// by-value result into out.
func (p *Page) Evaluate(ctx context.Context, expression string, out any) error {
	var res struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	err := p.client.Call(ctx, p.sessionID, "Runtime.evaluate",
		map[string]any{"expression": expression, "returnByValue": true}, &res)
	if err != nil {
		return err
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("cdp: evaluate: %s", res.ExceptionDetails.Text)
	}
	if out != nil && len(res.Result.Value) > 0 {
		if err := json.Unmarshal(res.Result.Value, out); err != nil {
			return fmt.Errorf("cdp: decode evaluate result: %w", err)
		}
	}
	return nil
}

// Title returns document.title of the current page.
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.Evaluate(ctx, "document.title", &title); err != nil {
		return "", err
	}
	return title, nil
}

// ContentLength returns the length of the serialized page HTML.
func (p *Page) ContentLength(ctx context.Context) (int, error) {
	var n int
	err := p.Evaluate(ctx, "document.documentElement.outerHTML.length", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
