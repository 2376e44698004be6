package institution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/expert-scraper/internal/dom"
)

const acuListing = `<html><body><div id="searchstax-search-results">
<div><div><div><div>
  <div><a href="/research/our-people/jane-citizen">Jane Citizen</a></div>
  <div><a href="/research/our-people?sort=surname">Sort by surname</a></div>
</div></div></div></div>
<div><div><div><div>
  <div><a href="/research/our-people/sam-lee">Sam Lee</a></div>
  <div><a href="/contact-us">Contact</a></div>
</div></div></div></div>
<nav><a aria-label="Next" href="?start=10">Next</a></nav>
</div></body></html>`

// Research portal listings share one layout.
const portalListing = `<html><body><div id="main-content"><div>
<div><ul><li><div><div><h3><a href="/en/organisations/">Organisations</a></h3></div></div></li></ul></div>
<div>
  <ul>
    <li><div><div><h3><a href="/en/persons/jane-citizen">Jane Citizen</a></h3></div><div><h3><a href="/en/organisations/law">College of Law</a></h3></div></div></li>
    <li><div><div><h3><a href="/en/persons/sam-lee">Sam Lee</a></h3></div></div></li>
  </ul>
  <nav><ul><li><a class="step" href="?page=1">2</a></li><li><a class="step" href="?page=41">42</a></li></ul></nav>
</div>
</div></div></body></html>`

func TestDefinitionFixtures(t *testing.T) {
	tests := []struct {
		key        string
		listingURL string
		listing    string
		wantLinks  []string
		detailURL  string
		detail     string
		wantName   string
		want       map[string]string
	}{
		{
			key:        "acu-brisbane",
			listingURL: "https://www.acu.edu.au/searchresearchers?start=0",
			listing:    acuListing,
			wantLinks: []string{
				"https://www.acu.edu.au/research/our-people/jane-citizen",
				"https://www.acu.edu.au/research/our-people/sam-lee",
			},
			detailURL: "https://www.acu.edu.au/research/our-people/jane-citizen",
			detail: `<html><body><section>
<h2>Professor Jane Citizen</h2>
<p><em>Dean<br>Faculty of Law and Business</em></p>
<p><strong>Email:</strong> jane.citizen@acu.edu.au</p>
<p>Jane researches contract law.</p>
</section></body></html>`,
			wantName: "Jane Citizen",
			want: map[string]string{
				"position": "Dean",
				"orgUnit":  "Faculty of Law and Business",
				"email":    "jane.citizen@acu.edu.au",
			},
		},
		{
			key:        "acu-canberra",
			listingURL: "https://www.acu.edu.au/searchresearchers?start=0",
			listing:    acuListing,
			wantLinks: []string{
				"https://www.acu.edu.au/research/our-people/jane-citizen",
				"https://www.acu.edu.au/research/our-people/sam-lee",
			},
			detailURL: "https://www.acu.edu.au/research/our-people/sam-lee",
			detail: `<html><body><section>
<h2>Dr Sam Lee</h2>
<p><strong>ORCID ID:</strong> <a href="https://orcid.org/0000-0002-1825-0097">0000-0002-1825-0097</a></p>
</section></body></html>`,
			wantName: "Sam Lee",
			want:     map[string]string{"orcid": "0000-0002-1825-0097"},
		},
		{
			key:        "anu",
			listingURL: "https://researchportalplus.anu.edu.au/en/persons/?page=0",
			listing:    portalListing,
			wantLinks: []string{
				"https://researchportalplus.anu.edu.au/en/persons/jane-citizen",
				"https://researchportalplus.anu.edu.au/en/persons/sam-lee",
			},
			detailURL: "https://researchportalplus.anu.edu.au/en/persons/jane-citizen",
			detail: `<html><body><div id="page-content"><div><section><div><div><div><section>
<div></div>
<div>
  <div>
    <h1>Professor Jane Citizen</h1>
    <div><p>Dean, College of Law</p></div>
    <div><ul><li><a href="/en/organisations/law"><span>College of Law</span></a></li></ul></div>
  </div>
  <div><ul><li><span>Email</span><span><a href="mailto:jane.citizen@anu.edu.au">jane.citizen@anu.edu.au</a></span></li></ul></div>
</div>
</section></div></div></div></section></div></div></body></html>`,
			wantName: "Jane Citizen",
			want: map[string]string{
				"position": "Dean, College of Law",
				"orgUnit":  "College of Law",
				"email":    "jane.citizen@anu.edu.au",
			},
		},
		{
			key:        "bond",
			listingURL: "https://research.bond.edu.au/en/persons/?page=0",
			listing:    portalListing,
			wantLinks: []string{
				"https://research.bond.edu.au/en/persons/jane-citizen",
				"https://research.bond.edu.au/en/persons/sam-lee",
			},
			detailURL: "https://research.bond.edu.au/en/persons/sam-lee",
			detail: `<html><body><div id="page-content"><div><section><div><div><div><section>
<div></div>
<div>
  <div>
    <h1>Dr Sam Lee</h1>
    <div><p>Assistant Professor</p></div>
    <div><ul><li>Faculty of Law</li></ul></div>
  </div>
  <div><ul><li><span>Phone</span><span>07 5595 1234</span></li></ul></div>
</div>
</section></div></div></div></section></div></div></body></html>`,
			wantName: "Sam Lee",
			want: map[string]string{
				"orgUnit":   "Faculty of Law",
				"telephone": "+61 07 5595 1234",
			},
		},
		{
			key:        "cdu",
			listingURL: "https://www.cqu.edu.au/research/current-research/find-an-expert",
			listing: `<html><body><div id="skip-to-content"><div>
<nav><a href="/">Home</a><a href="/research">Research</a></nav>
<div><div>
  <div><p>Showing 1 to 2 of 512</p><a href="?sort=name">Sort</a></div>
  <a href="/profiles/jane-citizen">Jane Citizen</a>
  <a href="/profiles/sam-lee">Sam Lee</a>
  <button aria-label="Show More">Show More</button>
</div></div>
</div></div></body></html>`,
			wantLinks: []string{
				"https://www.cqu.edu.au/profiles/jane-citizen",
				"https://www.cqu.edu.au/profiles/sam-lee",
			},
			detailURL: "https://www.cqu.edu.au/profiles/jane-citizen",
			detail: `<html><body><div id="profile"><div><div><div>
<div><img src="/photo.jpg" alt=""></div>
<div>
  <h4><b>Dr Jane Citizen</b></h4>
  <div>
    <div>Senior Lecturer</div>
    <div><a href="mailto:jane.citizen@cdu.edu.au">jane.citizen@cdu.edu.au</a></div>
    <div>Faculty of Health</div>
    <div><a href="https://orcid.org/0000-0002-1825-0097">https://orcid.org/0000-0002-1825-0097</a></div>
    <div>Darwin</div>
    <div>08 8946 6000</div>
  </div>
</div>
</div></div></div></div>
<div id="about"><div><p>Jane studies tropical health.</p></div></div></body></html>`,
			wantName: "Jane Citizen",
			want: map[string]string{
				"orgUnit":   "Faculty of Health",
				"email":     "jane.citizen@cdu.edu.au",
				"orcid":     "0000-0002-1825-0097",
				"telephone": "08 8946 6000",
			},
		},
		{
			key:        "charles-sturt",
			listingURL: "https://www.csu.edu.au/research/gulbali/find-experts",
			listing: `<html><body>
<div><div>
  <div><div>
    <div><img src="/a.jpg" alt=""></div>
    <div><h2><a href="/research/gulbali/people/jane-citizen">Jane Citizen</a></h2></div>
  </div></div>
  <div><div>
    <div><img src="/b.jpg" alt=""></div>
    <div><h2><a href="/research/gulbali/people/sam-lee">Sam Lee</a></h2></div>
  </div></div>
  <div><div><div><h2><a href="/research/gulbali/about">About Gulbali</a></h2></div></div></div>
</div></div>
<div><h2><a href="/research/gulbali/news">Latest news</a></h2></div>
</body></html>`,
			wantLinks: []string{
				"https://www.csu.edu.au/research/gulbali/people/jane-citizen",
				"https://www.csu.edu.au/research/gulbali/people/sam-lee",
			},
			detailURL: "https://www.csu.edu.au/research/gulbali/people/jane-citizen",
			detail: `<html><body><div id="research_staff_profile"><section>
<h2>Associate Professor Jane Citizen</h2>
<h3>Senior Research Fellow</h3>
<p>Gulbali Institute</p>
<div><div></div><div><ul><li>Phone</li><li><a href="mailto:jane.citizen@csu.edu.au">Email</a></li></ul></div></div>
</section></div>
<div id="staff-bio-contact"><div><p>Jane studies river ecology.</p></div></div></body></html>`,
			wantName: "Jane Citizen",
			want: map[string]string{
				"position": "Senior Research Fellow",
				"orgUnit":  "Gulbali Institute",
				"email":    "jane.citizen@csu.edu.au",
			},
		},
		{
			key:        "cmu-australia",
			listingURL: "https://www.heinz.cmu.edu/faculty-research/profiles/",
			listing: `<html><body><main id="main"><div>
<section><ol><li><a href="/programs">Programs</a></li></ol></section>
<section><ol>
  <li><article><div><p><a href="/faculty-research/profiles/?dept=policy">Policy</a></p><p><a href="/faculty-research/profiles/citizen-jane">Jane Citizen</a></p></div></article></li>
  <li><article><div><p>Faculty</p><p><a href="/faculty-research/profiles/lee-sam">Sam Lee</a></p></div></article></li>
</ol></section>
<nav class="pagination__inner-container"><a class="pagination__next-link" href="?page=2">Next</a></nav>
</div></main></body></html>`,
			wantLinks: []string{
				"https://www.heinz.cmu.edu/faculty-research/profiles/citizen-jane",
				"https://www.heinz.cmu.edu/faculty-research/profiles/lee-sam",
			},
			detailURL: "https://www.heinz.cmu.edu/faculty-research/profiles/citizen-jane",
			detail: `<html><body><main id="main"><div>
<section><nav><a href="/">Home</a></nav></section>
<section>
  <div>
    <h1>Jane Citizen</h1>
    <h2>Professor of Public Policy</h2>
    <span class="vcard__telephone"><a href="tel:+14122681234">412-268-1234</a></span>
    <span class="vcard__email"><a href="mailto:jcitizen@cmu.edu">jcitizen@cmu.edu</a></span>
  </div>
  <div class="user-markup"><p>Jane studies public policy.</p></div>
</section>
</div></main></body></html>`,
			wantName: "Jane Citizen",
			want: map[string]string{
				"position":          "Professor of Public Policy",
				"email":             "jcitizen@cmu.edu",
				"briefIntroduction": "Jane studies public policy.",
			},
		},
		{
			key:        "curtin",
			listingURL: "https://search.curtin.edu.au/results/people?start_rank=1",
			listing: `<html><body><div id="root"><main><div>
<div><a href="/">Curtin</a></div>
<div><form><a href="?sort=name">Sort</a></form></div>
<div><div><div><div>
  <a href="https://staffportal.curtin.edu.au/staff/profile/view/jane-citizen">Jane Citizen</a>
  <a href="https://staffportal.curtin.edu.au/staff/profile/view/sam-lee">Sam Lee</a>
  <nav><div><button>1</button><button>2</button><button>of 35</button></div></nav>
</div></div></div></div>
</div></main></div></body></html>`,
			wantLinks: []string{
				"https://staffportal.curtin.edu.au/staff/profile/view/jane-citizen",
				"https://staffportal.curtin.edu.au/staff/profile/view/sam-lee",
			},
			detailURL: "https://staffportal.curtin.edu.au/staff/profile/view/jane-citizen",
			detail: `<html><body><div id="public-staff-profile"><section>
<h2>Dr Jane Citizen</h2>
<section><dl>
  <dt>Position</dt><dd>Senior Lecturer</dd>
  <dt>School</dt><dd>School of Education</dd>
  <dt>Email</dt><dd>jane.citizen@curtin.edu.au</dd>
</dl></section>
<div><p>Jane studies literacy.</p></div>
</section></div></body></html>`,
			wantName: "Jane Citizen",
			want: map[string]string{
				"position": "Senior Lecturer",
				"orgUnit":  "School of Education",
				"email":    "jane.citizen@curtin.edu.au",
			},
		},
		{
			key:        "deakin",
			listingURL: "https://experts.deakin.edu.au/search?by=text&type=user",
			listing: `<html><body><div id="app"><div><main><div>
<div><a href="/">Deakin Experts</a></div>
<div>
  <div></div>
  <div></div>
  <div>
    <div></div>
    <div></div>
    <div>
      <div><a href="/search?sort=name">Sort by name</a></div>
      <div>
        <div><div><img src="/a.jpg" alt=""></div><div><div><a href="/12345-jane-citizen">Jane Citizen</a></div></div></div>
        <div><div><img src="/b.jpg" alt=""></div><div><div><a href="/67890-sam-lee">Sam Lee</a></div><span><a href="/search?tag=law">Law</a></span></div></div>
      </div>
      <nav><ul><li><button>1</button></li></ul></nav>
    </div>
  </div>
</div>
</div></main></div></div></body></html>`,
			wantLinks: []string{
				"https://experts.deakin.edu.au/12345-jane-citizen",
				"https://experts.deakin.edu.au/67890-sam-lee",
			},
			detailURL: "https://experts.deakin.edu.au/12345-jane-citizen",
			detail: `<html><body><div id="app"><div><main><div>
<div></div>
<div>
  <div>
    <div></div>
    <div>
      <div>
        <div><img src="/jane.jpg" alt=""></div>
        <div>
          <p>Professor</p>
          <h1>Professor Jane Citizen</h1>
          <div><p>Chair in Marine Science</p><p>School of Life and Environmental Sciences</p></div>
          <button data-qa="contactModalButton">Contact</button>
        </div>
      </div>
    </div>
  </div>
  <div><div></div><div><div><div><div></div><div><div><p>Jane studies coral reefs.</p></div></div></div></div></div></div>
</div>
</div></main></div></div></body></html>`,
			wantName: "Jane Citizen",
			want: map[string]string{
				"position":          "Chair in Marine Science",
				"orgUnit":           "School of Life and Environmental Sciences",
				"briefIntroduction": "Jane studies coral reefs.",
			},
		},
	}

	r := defaultRegistry(t)
	require.Len(t, tests, len(r.List()))

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			d, err := r.Get(tt.key)
			require.NoError(t, err)
			plan, err := d.Build(discard())
			require.NoError(t, err)

			listing, err := dom.NewStaticPageFromHTML(tt.listingURL, tt.listing)
			require.NoError(t, err)
			links, err := plan.Strategy.ExtractLinks(context.Background(), listing)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLinks, []string(links))

			detail, err := dom.NewStaticPageFromHTML(tt.detailURL, tt.detail)
			require.NoError(t, err)
			p, err := plan.Extractor.Process(context.Background(), detail)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.FullName)
			assert.Equal(t, tt.detailURL, p.SourceURL)
			for field, want := range tt.want {
				assert.Equal(t, want, p.Get(field), field)
			}
		})
	}
}
