package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/expert-scraper/internal/crawl"
	"github.com/maltedev/expert-scraper/internal/dom"
	"github.com/maltedev/expert-scraper/internal/models"
)

func newExtractor(t *testing.T, rules []FieldRule) *Extractor {
	t.Helper()
	e, err := New("test", rules, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return e
}

func load(t *testing.T, url, html string) dom.Page {
	t.Helper()
	page, err := dom.NewStaticPageFromHTML(url, html)
	require.NoError(t, err)
	return page
}

const catholicProfile = `<html><body><div><div></div><div></div><div></div><div><div><section>
<h2>Associate Professor Jane Citizen</h2>
<p><em>Senior Lecturer<br>Faculty of Health Sciences</em></p>
<p><strong>Phone:</strong> 07 3623 7100</p>
<p><strong>Email:</strong> jane.citizen@acu.edu.au</p>
<p><strong>ORCID ID:</strong> 0000-0002-1825-0097</p>
<p><strong>Research interests</strong></p>
<p>Jane studies community health.</p>
<p>She leads the rural outreach programme.</p>
</section></div></div></body></html>`

func catholicRules() []FieldRule {
	return []FieldRule{
		{Field: models.FieldFullName, Selectors: []string{"section h2", "section h3"}, Honorific: HonorificSplit},
		{Selectors: []string{"section em"}, Split: []string{models.FieldPosition, models.FieldOrgUnit}, SplitSingle: models.FieldOrgUnit},
		{Field: models.FieldTelephone, Selectors: []string{"section p"}, Contains: "Phone", TrimPrefix: []string{"Phone:", "Phone"}, CountryCode: "+61"},
		{Field: models.FieldEmail, Selectors: []string{"section p"}, Contains: "Email:", TrimPrefix: []string{"Email:"}},
		{Field: models.FieldORCID, Selectors: []string{"section p"}, Contains: "ORCID ID:", TrimPrefix: []string{"ORCID ID:"}},
		{Field: models.FieldBriefIntroduction, Selectors: []string{"section > p"}, All: true, Exclude: "strong, em", Separator: " "},
	}
}

func TestExtractorCatholicStyleProfile(t *testing.T) {
	page := load(t, "https://www.acu.edu.au/research/our-people/jane-citizen", catholicProfile)

	p, err := newExtractor(t, catholicRules()).Process(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, "https://www.acu.edu.au/research/our-people/jane-citizen", p.SourceURL)
	assert.Equal(t, "test", p.Institution)
	assert.Equal(t, "Associate Professor", p.Title)
	assert.Equal(t, "Jane Citizen", p.FullName)
	assert.Equal(t, []string{"Senior Lecturer"}, p.Position)
	assert.Equal(t, "Faculty of Health Sciences", p.OrgUnit)
	assert.Equal(t, "+61 07 3623 7100", p.Telephone)
	assert.Equal(t, "jane.citizen@acu.edu.au", p.Email)
	assert.Equal(t, "0000-0002-1825-0097", p.ORCID)
	assert.Contains(t, p.BriefIntroduction, "Jane studies community health.")
	assert.Contains(t, p.BriefIntroduction, "rural outreach")
	assert.NotContains(t, p.BriefIntroduction, "Research interests")
	assert.NotContains(t, p.BriefIntroduction, "Phone")
}

func TestExtractorSplitSinglePart(t *testing.T) {
	page := load(t, "https://uni.test/p", `<section><h2>Mr Sam Lee</h2><em>School of Law</em></section>`)

	p, err := newExtractor(t, catholicRules()).Process(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, "Mr", p.Title)
	assert.Equal(t, "Sam Lee", p.FullName)
	assert.Empty(t, p.Position)
	assert.Equal(t, "School of Law", p.OrgUnit)
	assert.Empty(t, p.Telephone)
}

const curtinProfile = `<div id="public-staff-profile"><section>
<h2>Dr Alex Morgan</h2>
<section><dl>
<dt>Position</dt><dd>Research Fellow</dd>
<dt>School</dt><dd>School of Molecular and Life Sciences</dd>
<dt>Telephone</dt><dd>08 9266 1000</dd>
<dt>Email</dt><dd>alex.morgan@curtin.edu.au</dd>
<dt>ORCID</dt><dd>0000-0001-2345-6789</dd>
</dl></section>
<h2>Brief Summary</h2><div><p>Works on soil microbes.</p><ul><li>Bioremediation</li></ul></div>
</section></div>`

func curtinRules() []FieldRule {
	pairs := []string{"#public-staff-profile dl dt, #public-staff-profile dl dd"}
	return []FieldRule{
		{Field: models.FieldFullName, Selectors: []string{"#public-staff-profile h2"}, Honorific: HonorificRequired},
		{Field: models.FieldPosition, Selectors: pairs, Label: "Position"},
		{Field: models.FieldOrgUnit, Selectors: pairs, Label: "School"},
		{Field: models.FieldTelephone, Selectors: pairs, Label: "Telephone", CountryCode: "+61"},
		{Field: models.FieldEmail, Selectors: pairs, Label: "Email"},
		{Field: models.FieldORCID, Selectors: pairs, Label: "ORCID"},
		{Field: models.FieldGoogleScholarURL, Selectors: pairs, Label: "google"},
		{Field: models.FieldBriefIntroduction, Selectors: []string{"#public-staff-profile > section > div"}, Children: "p, li", All: true},
	}
}

func TestExtractorLabelledPairs(t *testing.T) {
	page := load(t, "https://staffportal.curtin.edu.au/staff/profile/view/alex-morgan", curtinProfile)

	p, err := newExtractor(t, curtinRules()).Process(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, "Dr", p.Title)
	assert.Equal(t, "Alex Morgan", p.FullName)
	assert.Equal(t, []string{"Research Fellow"}, p.Position)
	assert.Equal(t, "School of Molecular and Life Sciences", p.OrgUnit)
	assert.Equal(t, "+61 08 9266 1000", p.Telephone)
	assert.Equal(t, "alex.morgan@curtin.edu.au", p.Email)
	assert.Equal(t, "0000-0001-2345-6789", p.ORCID)
	assert.Empty(t, p.GoogleScholarURL)
	assert.Equal(t, "Works on soil microbes.\nBioremediation", p.BriefIntroduction)
}

func TestExtractorRequiredHonorificMissing(t *testing.T) {
	page := load(t, "https://uni.test/p", `<div id="public-staff-profile"><section><h2>Alex Morgan</h2></section></div>`)

	_, err := newExtractor(t, curtinRules()).Process(context.Background(), page)
	assert.ErrorIs(t, err, crawl.ErrMissingIdentity)
}

func TestExtractorMissingIdentity(t *testing.T) {
	page := load(t, "https://uni.test/p", `<html><body><p>Page not found</p></body></html>`)

	_, err := newExtractor(t, catholicRules()).Process(context.Background(), page)
	assert.ErrorIs(t, err, crawl.ErrMissingIdentity)
}

func TestExtractorAppendAndAttr(t *testing.T) {
	html := `<main>
<h1>Professor Kim Lau</h1>
<div class="bio"><p>Kim researches climate policy.</p></div>
<ul class="projects"><li><h3><a><span>Carbon markets</span></a></h3></li><li><h3><a><span>Water rights</span></a></h3></li></ul>
<a href="https://scholar.google.com/citations?user=abc">Scholar</a>
<button data-qa="contactModalButton">Contact</button>
<a class="mail" href="mailto:kim.lau@uni.test">kim</a>
</main>`
	rules := []FieldRule{
		{Field: models.FieldFullName, Selectors: []string{"h1"}, Honorific: HonorificSplit},
		{Field: models.FieldBriefIntroduction, Selectors: []string{"div.bio"}, Children: "p", All: true},
		{Field: models.FieldBriefIntroduction, Selectors: []string{"ul.projects li h3 span"}, All: true, Append: true},
		{Field: models.FieldGoogleScholarURL, Selectors: []string{`a[href*="scholar.google.com"]`}, Attr: "href"},
		{Field: models.FieldEmail, Click: `button[data-qa="contactModalButton"]`, Selectors: []string{"a.mail"}, Attr: "href", TrimPrefix: []string{"mailto:"}},
	}
	page := load(t, "https://uni.test/en/persons/kim-lau", html)

	p, err := newExtractor(t, rules).Process(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, "Professor", p.Title)
	assert.Equal(t, "Kim Lau", p.FullName)
	assert.Equal(t, "Kim researches climate policy.\nCarbon markets\nWater rights", p.BriefIntroduction)
	assert.Equal(t, "https://scholar.google.com/citations?user=abc", p.GoogleScholarURL)
	// the contact button is not a link, so the static driver cannot open it
	assert.Empty(t, p.Email)
}

func TestExtractorRejectsUnsupportedSelector(t *testing.T) {
	rules := []FieldRule{{Field: models.FieldFullName, Selectors: []string{"//h1"}}}
	page := load(t, "https://uni.test/p", `<h1>Dr Who</h1>`)

	_, err := newExtractor(t, rules).Process(context.Background(), page)
	require.Error(t, err)
	assert.ErrorIs(t, err, dom.ErrUnsupportedSelector)
	assert.NotErrorIs(t, err, crawl.ErrMissingIdentity)
}

// detachedPage fails every lookup of one selector, as a driver does when the
// frame goes away mid-read.
type detachedPage struct {
	dom.Page
	selector string
}

func (p detachedPage) FindElement(selector string) (dom.Element, bool, error) {
	if selector == p.selector {
		return nil, false, errors.New("locator: frame detached")
	}
	return p.Page.FindElement(selector)
}

func (p detachedPage) FindElements(selector string) ([]dom.Element, error) {
	if selector == p.selector {
		return nil, errors.New("locator: frame detached")
	}
	return p.Page.FindElements(selector)
}

func TestExtractorOptionalFieldFailureKeepsRecord(t *testing.T) {
	html := `<h1>Dr Jane Citizen</h1><a class="orcid" href="https://orcid.org/0000-0002-1825-0097">ORCID</a>
<p class="mail">jane@uni.test</p><em>Lecturer<br>School of Law</em>`
	rules := []FieldRule{
		{Field: models.FieldFullName, Selectors: []string{"h1"}, Honorific: HonorificSplit},
		{Field: models.FieldORCID, Selectors: []string{"a.orcid"}, Attr: "href"},
		{Field: models.FieldGoogleScholarURL, Selectors: []string{"//a[contains(@href,'scholar')]"}, Attr: "href"},
		{Selectors: []string{"em"}, Split: []string{models.FieldPosition, models.FieldOrgUnit}},
		{Field: models.FieldEmail, Selectors: []string{"p.mail"}},
	}
	page := detachedPage{Page: load(t, "https://uni.test/jane", html), selector: "a.orcid"}

	p, err := newExtractor(t, rules).Process(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "Jane Citizen", p.FullName)
	assert.Empty(t, p.ORCID)
	assert.Empty(t, p.GoogleScholarURL)
	assert.Equal(t, "jane@uni.test", p.Email)
	assert.Equal(t, "School of Law", p.OrgUnit)

	page = detachedPage{Page: load(t, "https://uni.test/jane", html), selector: "em"}
	p, err = newExtractor(t, rules).Process(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "Jane Citizen", p.FullName)
	assert.Empty(t, p.OrgUnit)
	assert.Equal(t, "jane@uni.test", p.Email)

	page = detachedPage{Page: load(t, "https://uni.test/jane", html), selector: "h1"}
	_, err = newExtractor(t, rules).Process(context.Background(), page)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame detached")
}

func TestNewValidatesRules(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := New("x", []FieldRule{{Field: models.FieldEmail, Selectors: []string{"a"}}}, 0, logger)
	assert.ErrorIs(t, err, ErrNoIdentityRule)

	_, err = New("x", []FieldRule{{Field: "nickname", Selectors: []string{"a"}}}, 0, logger)
	assert.Error(t, err)

	_, err = New("x", []FieldRule{{Field: models.FieldFullName}}, 0, logger)
	assert.Error(t, err)

	_, err = New("x", []FieldRule{{Field: models.FieldFullName, Selectors: []string{"h1"}, Honorific: "maybe"}}, 0, logger)
	assert.Error(t, err)
}

func TestSplitHonorific(t *testing.T) {
	tests := []struct {
		in    string
		title string
		name  string
		ok    bool
	}{
		{"Professor Ada Lovelace", "Professor", "Ada Lovelace", true},
		{"Associate Professor Ada Lovelace", "Associate Professor", "Ada Lovelace", true},
		{"Honorary Associate Professor Ada Lovelace", "Honorary Associate Professor", "Ada Lovelace", true},
		{"Dr. Ada Lovelace", "Dr.", "Ada Lovelace", true},
		{"A/Prof Ada Lovelace", "A/Prof", "Ada Lovelace", true},
		{"Miss Ada Lovelace", "Miss", "Ada Lovelace", true},
		{"Ada Lovelace", "", "Ada Lovelace", false},
		{"Drake Bell", "", "Drake Bell", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			title, name, ok := SplitHonorific(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.title, title)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"Lecturer", "School of Arts & Humanities"},
		SplitLines(`Lecturer<br>"School of Arts &amp; Humanities"<br/> `))
	assert.Empty(t, SplitLines("  "))
}
