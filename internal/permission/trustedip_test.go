package permission

import (
	"testing"

	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/pkg/models"
)

func intPtr(i int) *int { return &i }

func TestBlocklistDefaultAllowsEverything(t *testing.T) {
	trusted := models.DefaultTrustedIPs()
	for _, ip := range []string{"1.2.3.4", "10.0.0.1", "255.255.255.255", "2001:db8::1", "::1"} {
		if err := CheckAgainstBlocklist(ip, trusted); err != nil {
			t.Errorf("default allowlist rejected %s: %v", ip, err)
		}
	}
}

func TestBlocklistEmptyMeansUnrestricted(t *testing.T) {
	if err := CheckAgainstBlocklist("203.0.113.9", nil); err != nil {
		t.Fatalf("empty allowlist should not restrict: %v", err)
	}
}

func TestBlocklistCIDR(t *testing.T) {
	trusted := []models.TrustedIP{
		{IPAddress: "10.0.0.0", Type: models.IPv4, Prefix: intPtr(24)},
	}
	if err := CheckAgainstBlocklist("10.0.0.5", trusted); err != nil {
		t.Fatalf("10.0.0.5 is inside 10.0.0.0/24: %v", err)
	}
	err := CheckAgainstBlocklist("10.0.1.5", trusted)
	if !apperr.IsUnauthorized(err) {
		t.Fatalf("10.0.1.5 is outside 10.0.0.0/24, expected Unauthorized, got %v", err)
	}
}

func TestBlocklistExactAddress(t *testing.T) {
	trusted := []models.TrustedIP{
		{IPAddress: "192.0.2.10", Type: models.IPv4},
	}
	if err := CheckAgainstBlocklist("192.0.2.10", trusted); err != nil {
		t.Fatalf("exact match should pass: %v", err)
	}
	if err := CheckAgainstBlocklist("192.0.2.11", trusted); !apperr.IsUnauthorized(err) {
		t.Fatalf("non-listed address must be blocked, got %v", err)
	}
}

func TestBlocklistIPv6(t *testing.T) {
	trusted := []models.TrustedIP{
		{IPAddress: "2001:db8::", Type: models.IPv6, Prefix: intPtr(32)},
	}
	if err := CheckAgainstBlocklist("2001:db8::42", trusted); err != nil {
		t.Fatalf("inside prefix: %v", err)
	}
	if err := CheckAgainstBlocklist("2001:db9::1", trusted); !apperr.IsUnauthorized(err) {
		t.Fatalf("outside prefix, expected Unauthorized, got %v", err)
	}
	// A v4 address never matches a v6 entry.
	if err := CheckAgainstBlocklist("10.0.0.1", trusted); !apperr.IsUnauthorized(err) {
		t.Fatalf("v4 against v6-only list, expected Unauthorized, got %v", err)
	}
}

func TestBlocklistMalformedClientIP(t *testing.T) {
	trusted := models.DefaultTrustedIPs()
	if err := CheckAgainstBlocklist("not-an-ip", trusted); !apperr.IsUnauthorized(err) {
		t.Fatalf("malformed address must be Unauthorized, got %v", err)
	}
}
