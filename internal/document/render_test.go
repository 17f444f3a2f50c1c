package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/applymate/internal/types"
)

func sampleDocument() *types.TailoredDocument {
	return &types.TailoredDocument{
		Summary:   "Engineer <with> markup",
		KeySkills: []string{"Go", "SQL"},
		WorkExperience: []types.WorkExperience{
			{Title: "Engineer", Company: "Acme", Duration: "2020-2024", Achievements: []string{"Shipped things"}},
		},
		Education:        []types.Education{{Degree: "BSc", Institution: "Uni", Year: "2015"}},
		ATSScoreEstimate: 70,
	}
}

func TestTemplates(t *testing.T) {
	assert.Equal(t, []string{"compact", "default"}, Templates())
}

func TestResolveTemplate(t *testing.T) {
	assert.Equal(t, "default", ResolveTemplate(""))
	assert.Equal(t, "default", ResolveTemplate("fancy"))
	assert.Equal(t, "compact", ResolveTemplate("compact"))
	assert.Equal(t, "compact", ResolveTemplate(" Compact "))
}

func TestRenderHTML_UnknownTemplateFallsBack(t *testing.T) {
	doc := sampleDocument()

	def, err := RenderHTML(doc, "default", Meta{})
	require.NoError(t, err)
	unknown, err := RenderHTML(doc, "does-not-exist", Meta{})
	require.NoError(t, err)
	assert.Equal(t, def, unknown)

	compact, err := RenderHTML(doc, "compact", Meta{})
	require.NoError(t, err)
	assert.NotEqual(t, def, compact)
	assert.Contains(t, string(compact), "Go · SQL")
}

func TestRenderHTML_EscapesContent(t *testing.T) {
	out, err := RenderHTML(sampleDocument(), "", Meta{Name: "Jane", ShowATS: true})
	require.NoError(t, err)

	html := string(out)
	assert.Contains(t, html, "Engineer &lt;with&gt; markup")
	assert.Contains(t, html, "<h1>Jane</h1>")
	assert.Contains(t, html, "Estimated ATS match: 70/100")
	assert.Contains(t, html, "Shipped things")
}

func TestRenderHTML_NilDocument(t *testing.T) {
	_, err := RenderHTML(nil, "default", Meta{})
	var te *TemplateError
	assert.ErrorAs(t, err, &te)
}

func TestHTMLRenderer(t *testing.T) {
	data, ct, err := HTMLRenderer{}.Render(context.Background(), []byte("<p>x</p>"))
	require.NoError(t, err)
	assert.Equal(t, ContentTypeHTML, ct)
	assert.Equal(t, "<p>x</p>", string(data))

	_, _, err = HTMLRenderer{}.Render(context.Background(), nil)
	assert.Error(t, err)
}
