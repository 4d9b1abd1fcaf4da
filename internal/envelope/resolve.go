package envelope

// Rule names the dispatch rule that produced a Request.
type Rule string

const (
	RuleDirect Rule = "direct"
	RuleKeyed  Rule = "keyed"
)

// Request is a resolved notification ready for the sink.
// Title and Body are nil when absent.
type Request struct {
	Rule        Rule
	TargetAppID string // copied from the envelope for logging
	Title       *string
	Body        *string
	Icon        string // optional icon reference; empty means none
}

// TitleText returns the title or "" when absent.
func (r Request) TitleText() string {
	if r.Title == nil {
		return ""
	}
	return *r.Title
}

// BodyText returns the body or "" when absent.
func (r Request) BodyText() string {
	if r.Body == nil {
		return ""
	}
	return *r.Body
}

type ResolveOptions struct {
	// DirectIcon is attached to requests produced by the direct rule.
	DirectIcon string
}

// Resolve applies the direct rule, then the keyed rule, and returns the
// requests in that order. The rules are independent: an envelope may yield
// zero, one or two requests.
//
// The keyed rule emits a request even when neither "title" nor "body" is
// found.
func Resolve(env Envelope, opts ResolveOptions) []Request {
	var out []Request

	if m := env.Message; m != nil {
		title, body := m.Title, m.Content
		out = append(out, Request{
			Rule:        RuleDirect,
			TargetAppID: env.TargetAppID,
			Title:       &title,
			Body:        &body,
			Icon:        opts.DirectIcon,
		})
	}

	if env.TargetAppID == KeyedSelector {
		req := Request{Rule: RuleKeyed, TargetAppID: env.TargetAppID}
		if v, ok := env.Lookup(KeyTitle); ok {
			req.Title = &v
		}
		if v, ok := env.Lookup(KeyBody); ok {
			req.Body = &v
		}
		out = append(out, req)
	}

	return out
}
