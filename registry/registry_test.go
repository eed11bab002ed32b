package registry

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func _assert(t *testing.T, ok bool, format string, args ...interface{}) {
	t.Helper()
	if !ok {
		t.Fatalf(format, args...)
	}
}

func TestRegistry_OfferWithdraw(t *testing.T) {
	r := New()
	_assert(t, !r.IsOffered("ECHO"), "empty registry offers ECHO")
	_assert(t, r.Offer("ECHO") == nil, "offer failed")
	_assert(t, r.Offer("ECHO") == nil, "second offer should be a no-op")
	_assert(t, r.Len() == 1, "len %d", r.Len())
	_assert(t, r.IsOffered("ECHO"), "ECHO not offered")

	r.Withdraw("MISSING")
	_assert(t, r.Len() == 1, "withdrawing a missing name changed the registry")
	r.Withdraw("ECHO")
	_assert(t, !r.IsOffered("ECHO"), "ECHO still offered")

	_assert(t, r.Offer("") != nil, "empty name should be rejected")
	_assert(t, r.Offer(strings.Repeat("x", 256)) != nil, "long name should be rejected")
}

func TestRegistry_WithdrawAll(t *testing.T) {
	r := New()
	_ = r.Offer("B")
	_ = r.Offer("A")
	_assert(t, strings.Join(r.Names(), ",") == "A,B", "names %v", r.Names())
	names := r.WithdrawAll()
	_assert(t, strings.Join(names, ",") == "A,B", "withdrawn %v", names)
	_assert(t, r.Len() == 0, "registry not empty")
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("S%d", i%4)
			for j := 0; j < 100; j++ {
				_ = r.Offer(name)
				r.IsOffered(name)
				r.Withdraw(name)
			}
		}(i)
	}
	wg.Wait()
	_assert(t, r.Len() == 0, "len %d", r.Len())
}

func TestRegistry_ServeHTTP(t *testing.T) {
	r := New()
	_ = r.Offer("ECHO")
	_ = r.Offer("TIME")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	_assert(t, rec.Header().Get(DefaultHTTPField) == "ECHO,TIME", "header %q", rec.Header().Get(DefaultHTTPField))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
	_assert(t, rec.Code == http.StatusMethodNotAllowed, "code %d", rec.Code)
}
