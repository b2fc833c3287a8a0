package chain

import "strings"

// hstsReasonHeader is the diagnostic header Chromium attaches to internal
// HSTS upgrade redirects (status 307 with no network round-trip).
const hstsReasonHeader = "non-authoritative-reason"

// Classify maps an HTTP status code to its semantic status class. Pure and
// total: any integer is accepted, codes outside the known ranges yield an
// all-false class.
func Classify(code int) StatusClass {
	return StatusClass{
		IsSuccess:     code >= 200 && code < 300,
		IsRedirect:    code >= 300 && code < 400,
		IsClientError: code >= 400 && code < 500,
		IsServerError: code >= 500,
	}
}

// ClassifyRedirect refines a 3xx status into a redirect kind. A 307 with
// the HSTS diagnostic header is a browser-internal HSTS upgrade; 301 and
// 308 are permanent; everything else (302, 303, plain 307, any other 3xx)
// is temporary.
func ClassifyRedirect(code int, headers []Header) RedirectKind {
	if code == 307 {
		if v, ok := HeaderValue(headers, hstsReasonHeader); ok && v == "HSTS" {
			return RedirectHSTS
		}
	}
	if code == 301 || code == 308 {
		return RedirectPermanent
	}
	return RedirectTemporary
}

// HeaderValue returns the first header matching name, case-insensitively.
func HeaderValue(headers []Header, name string) (string, bool) {
	for i := range headers {
		if strings.EqualFold(headers[i].Name, name) {
			return headers[i].Value, true
		}
	}
	return "", false
}
