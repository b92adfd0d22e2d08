package portal

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

const (
	FieldViewState       = "__VIEWSTATE"
	FieldEventValidation = "__EVENTVALIDATION"
	FieldEventTarget     = "__EVENTTARGET"
	FieldEventArgument   = "__EVENTARGUMENT"
)

// PageState holds the rotating tokens of the last page the portal served.
// Every form post must replay them.
type PageState struct {
	ViewState       string
	EventValidation string
	EventTarget     string
	EventArgument   string
}

// ExtractPageState reads the hidden inputs of a WebForms page. A missing
// input fails, an empty value does not.
func ExtractPageState(doc *goquery.Document) (PageState, error) {
	var missing []string
	read := func(name string) string {
		input := doc.Find(fmt.Sprintf(`input[name="%s"]`, name)).First()
		value, exists := input.Attr("value")
		if input.Length() == 0 {
			missing = append(missing, name)
			return ""
		}
		if !exists {
			return ""
		}
		return value
	}

	state := PageState{
		ViewState:       read(FieldViewState),
		EventValidation: read(FieldEventValidation),
		EventTarget:     read(FieldEventTarget),
		EventArgument:   read(FieldEventArgument),
	}
	if len(missing) > 0 {
		return PageState{}, &MalformedPageError{Op: "extract page state", Missing: missing}
	}
	return state, nil
}

// Fields returns the four tokens as form fields in the order WebForms emits them.
func (p PageState) Fields() []Field {
	return []Field{
		{Name: FieldEventTarget, Value: p.EventTarget},
		{Name: FieldEventArgument, Value: p.EventArgument},
		{Name: FieldViewState, Value: p.ViewState},
		{Name: FieldEventValidation, Value: p.EventValidation},
	}
}
