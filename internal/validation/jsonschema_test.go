package validation

import "testing"

func TestForms(t *testing.T) {
	cases := []struct {
		form string
		body string
		ok   bool
	}{
		{FormSignUp, `{"email":"a@b.co","password":"secret1","role":"assist"}`, true},
		{FormSignUp, `{"email":"a@b.co","password":"secret1","role":"super_admin"}`, false},
		{FormSignUp, `{"email":"not-an-email","password":"secret1"}`, false},
		{FormSignUp, `{"email":"a@b.co","password":"123"}`, false},
		{FormSignIn, `{"email":"a@b.co","password":"x","role":"user"}`, true},
		{FormSignIn, `{"email":"a@b.co","password":"x"}`, false},
		{FormOnboarding, `{"business_name":"Acme Bakery","website":"acme.test"}`, true},
		{FormOnboarding, `{"business_name":""}`, false},
		{FormOnboarding, ``, false},
		{FormMessage, `{"receiver_id":"u2","content":"hello"}`, true},
		{FormMessage, `{"receiver_id":"u2","file_url":"u1/1_a.png"}`, true},
		{FormMessage, `{"receiver_id":"u2"}`, false},
		{FormAdminCreate, `{"email":"x@y.io","password":"secret1","role":"super_admin"}`, true},
	}
	for _, tc := range cases {
		s, ok := Lookup(tc.form)
		if !ok {
			t.Fatalf("form %s not registered", tc.form)
		}
		err := s.ValidateJSON([]byte(tc.body))
		if (err == nil) != tc.ok {
			t.Fatalf("%s %s: err = %v", tc.form, tc.body, err)
		}
		if err != nil && !IsValidationError(err) {
			t.Fatalf("%s: unexpected error kind %v", tc.form, err)
		}
	}
}

func TestMalformedJSON(t *testing.T) {
	s, _ := Lookup(FormSignIn)
	err := s.ValidateJSON([]byte(`{"email":`))
	if err == nil || IsValidationError(err) {
		t.Fatalf("malformed body: %v", err)
	}
}
