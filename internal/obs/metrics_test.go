package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                             "/",
		"/metrics":                     "/metrics",
		"/v1/memberships/abc":          "/v1/memberships/:id",
		"/v1/roles/01J0A":              "/v1/roles/:id",
		"/v1/roles/01J0A?group_type=x": "/v1/roles/:id",
		"/v1/entities/node/g1":         "/v1/entities/:id",
		"/v1/access/check":             "/v1/access/check",
		"/v1/group-types":              "/v1/group-types",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
