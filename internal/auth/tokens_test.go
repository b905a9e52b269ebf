package auth

import "testing"

func TestIssueAndValidate(t *testing.T) {
	token, err := IssueAccessToken("user-42", "test-secret", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := ValidateAccessToken(token, "test-secret", nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "user-42" {
		t.Fatalf("user = %q, want user-42", claims.UserID)
	}
	if claims.ID == "" {
		t.Fatalf("token carries no JTI")
	}
}

func TestValidateWrongSecret(t *testing.T) {
	token, err := IssueAccessToken("user-42", "test-secret", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ValidateAccessToken(token, "other-secret", nil); err == nil {
		t.Fatalf("expected validation failure with wrong secret")
	}
}

func TestValidateGarbageToken(t *testing.T) {
	if _, err := ValidateAccessToken("not.a.jwt", "test-secret", nil); err == nil {
		t.Fatalf("expected validation failure for garbage token")
	}
}
