package chain

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want StatusClass
	}{
		{200, StatusClass{IsSuccess: true}},
		{204, StatusClass{IsSuccess: true}},
		{299, StatusClass{IsSuccess: true}},
		{300, StatusClass{IsRedirect: true}},
		{301, StatusClass{IsRedirect: true}},
		{308, StatusClass{IsRedirect: true}},
		{399, StatusClass{IsRedirect: true}},
		{400, StatusClass{IsClientError: true}},
		{404, StatusClass{IsClientError: true}},
		{499, StatusClass{IsClientError: true}},
		{500, StatusClass{IsServerError: true}},
		{599, StatusClass{IsServerError: true}},
		{0, StatusClass{}},
		{100, StatusClass{}},
		{199, StatusClass{}},
		{-1, StatusClass{}},
	}

	for _, tt := range tests {
		got := Classify(tt.code)
		if got != tt.want {
			t.Errorf("Classify(%d) = %+v, want %+v", tt.code, got, tt.want)
		}
	}
}

func TestClassifyExactlyOneClass(t *testing.T) {
	// Every code in [200,599] belongs to exactly one class.
	for code := 200; code <= 599; code++ {
		c := Classify(code)
		count := 0
		for _, b := range []bool{c.IsSuccess, c.IsRedirect, c.IsClientError, c.IsServerError} {
			if b {
				count++
			}
		}
		if count != 1 {
			t.Errorf("Classify(%d) has %d classes set, want exactly 1", code, count)
		}
	}
}

func TestClassifyServerErrorOpenEnded(t *testing.T) {
	for _, code := range []int{600, 700, 999} {
		if !Classify(code).IsServerError {
			t.Errorf("Classify(%d).IsServerError = false, want true", code)
		}
	}
}

func TestClassifyRedirect(t *testing.T) {
	hsts := []Header{{Name: "non-authoritative-reason", Value: "HSTS"}}

	tests := []struct {
		name    string
		code    int
		headers []Header
		want    RedirectKind
	}{
		{"307 with HSTS header", 307, hsts, RedirectHSTS},
		{"307 with HSTS header mixed case name", 307, []Header{{Name: "Non-Authoritative-Reason", Value: "HSTS"}}, RedirectHSTS},
		{"307 plain", 307, nil, RedirectTemporary},
		{"307 with other reason", 307, []Header{{Name: "non-authoritative-reason", Value: "Delegate"}}, RedirectTemporary},
		{"301", 301, nil, RedirectPermanent},
		{"308", 308, nil, RedirectPermanent},
		{"302", 302, nil, RedirectTemporary},
		{"303", 303, nil, RedirectTemporary},
		{"300", 300, nil, RedirectTemporary},
		{"301 ignores HSTS header", 301, hsts, RedirectPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRedirect(tt.code, tt.headers)
			if got != tt.want {
				t.Errorf("ClassifyRedirect(%d) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestHeaderValue(t *testing.T) {
	headers := []Header{
		{Name: "Content-Type", Value: "text/html"},
		{Name: "location", Value: "https://example.com/a"},
		{Name: "Location", Value: "https://example.com/b"},
	}

	v, ok := HeaderValue(headers, "LOCATION")
	if !ok {
		t.Fatal("Expected to find Location header")
	}
	if v != "https://example.com/a" {
		t.Errorf("Expected first matching header value, got %q", v)
	}

	if _, ok := HeaderValue(headers, "X-Missing"); ok {
		t.Error("Expected no match for missing header")
	}

	if _, ok := HeaderValue(nil, "anything"); ok {
		t.Error("Expected no match on nil headers")
	}
}

func TestNewHopRedirectFields(t *testing.T) {
	hop := NewHop("https://a.com/", 301, "HTTP/1.1 301 Moved Permanently", []Header{
		{Name: "Location", Value: "https://b.com/"},
	})

	if hop.Kind != KindServerRedirect {
		t.Errorf("Expected server_redirect kind, got %q", hop.Kind)
	}
	if hop.RedirectKind != RedirectPermanent {
		t.Errorf("Expected permanent redirect kind, got %q", hop.RedirectKind)
	}
	if hop.RedirectTargetURL != "https://b.com/" {
		t.Errorf("Expected redirect target, got %q", hop.RedirectTargetURL)
	}
	if hop.IP != UnknownIP {
		t.Errorf("Expected unknown IP sentinel, got %q", hop.IP)
	}
	if hop.ID == "" {
		t.Error("Expected generated hop ID")
	}
}

func TestNewHopMissingLocation(t *testing.T) {
	// A 3xx without Location degrades gracefully: target stays unset.
	hop := NewHop("https://a.com/", 302, "", nil)

	if hop.Kind != KindServerRedirect {
		t.Errorf("Expected server_redirect kind, got %q", hop.Kind)
	}
	if hop.RedirectTargetURL != "" {
		t.Errorf("Expected empty redirect target, got %q", hop.RedirectTargetURL)
	}
}

func TestBackfillIP(t *testing.T) {
	hop := NewHop("https://a.com/", 200, "", nil)

	if !hop.BackfillIP("93.184.216.34") {
		t.Error("Expected backfill of unknown IP to succeed")
	}
	if hop.IP != "93.184.216.34" {
		t.Errorf("Expected backfilled IP, got %q", hop.IP)
	}

	// A known address is never overwritten.
	if hop.BackfillIP("10.0.0.1") {
		t.Error("Expected backfill of known IP to be refused")
	}
	if hop.IP != "93.184.216.34" {
		t.Errorf("IP was overwritten to %q", hop.IP)
	}
}
