package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/v1/initiatives/17":        "/v1/initiatives/:id",
		"/v1/initiatives/17/owners": "/v1/initiatives/:id/owners",
		"/v1/payments/4/initiative": "/v1/payments/:id/initiative",
		"/v1/payments":              "/v1/payments",
		"/v1/payments?limit=10":     "/v1/payments",
		"/v1/initiatives/abc":       "/v1/initiatives/abc",
		"/v1/activities/901/owners": "/v1/activities/:id/owners",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
