package htmlutil

import (
	"context"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	require.Equal(t, "Tests - 50%", CleanText("\n\t Tests -  50%\r\n"))
	require.Equal(t, "", CleanText("   "))
}

func TestGetAnchors(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<div>
			<a href="mailto:jane.doe@example.org"> Doe,<br/>Jane </a>
			<a href="ParentStudentGrades.aspx?data=abc%3D%3D">93</a>
		</div>`))
	require.NoError(t, err)

	anchors := GetAnchors(context.Background(), doc.Find("a"))
	require.Len(t, anchors, 2)
	require.Equal(t, "Doe, Jane", anchors[0].Name)
	require.Equal(t, "mailto", anchors[0].Url.Scheme)
	require.Equal(t, "jane.doe@example.org", anchors[0].Url.Opaque)
	require.Equal(t, "abc==", anchors[1].Url.Query().Get("data"))
	require.Equal(t, "93", SelectionText(doc.Find("a").Last()))
}
