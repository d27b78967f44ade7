package config

import "testing"

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "*****"},
		{"sk_test_51Hxyzabcdef", "sk_t************cdef"},
		{"  padded-secret-value  ", "padd***********alue"},
	}
	for _, tc := range cases {
		if got := MaskSecret(tc.in); got != tc.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestProviderCredentialsNormalizeEnv(t *testing.T) {
	stripe := StripeConfig{APIKey: "sk_test_1", WebhookSecret: "whsec_1", Env: "  SANDBOX "}
	if got := stripe.Credentials().Env; got != GatewayEnvSandbox {
		t.Fatalf("stripe env = %q, want %q", got, GatewayEnvSandbox)
	}

	paypal := PayPalConfig{ClientID: "cid", ClientSecret: "cs", Env: ""}
	creds := paypal.Credentials()
	if creds.Env != GatewayEnvSandbox {
		t.Fatalf("empty env must default to sandbox, got %q", creds.Env)
	}
	if creds.APIKey != "cid" || creds.APISecret != "cs" {
		t.Fatal("paypal credentials must map client id/secret")
	}

	alipay := AlipayConfig{AppID: "app", Env: "Production"}
	if got := alipay.Credentials().Env; got != GatewayEnvProduction {
		t.Fatalf("alipay env = %q, want %q", got, GatewayEnvProduction)
	}
}
