package portal

import (
	"net/url"
	"strings"
)

type Field struct {
	Name  string
	Value string
}

// Query is an ordered list of form fields. Order is kept when encoding,
// some portals validate the post body positionally.
type Query []Field

// NewQuery starts a query with the page state tokens followed by fields.
func NewQuery(state PageState, fields ...Field) Query {
	q := Query(state.Fields())
	for _, f := range fields {
		q = q.Set(f.Name, f.Value)
	}
	return q
}

// Set replaces the value of the first field named name, or appends it.
func (q Query) Set(name, value string) Query {
	for i, f := range q {
		if f.Name == name {
			out := make(Query, len(q))
			copy(out, q)
			out[i].Value = value
			return out
		}
	}
	out := make(Query, len(q), len(q)+1)
	copy(out, q)
	return append(out, Field{Name: name, Value: value})
}

func (q Query) Get(name string) (string, bool) {
	for _, f := range q {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Encode returns the query in application/x-www-form-urlencoded form.
func (q Query) Encode() string {
	var sb strings.Builder
	for i, f := range q {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(f.Name))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(f.Value))
	}
	return sb.String()
}
