package errors_test

import (
	"fmt"
	"testing"

	. "github.com/onsi/gomega"

	twerr "github.com/twisted-go/twisted/errors"
)

func TestClassification(t *testing.T) {
	g := NewWithT(t)

	base := fmt.Errorf("boom")

	tr := twerr.Transport(base)
	g.Expect(twerr.IsTransport(tr)).To(BeTrue())
	g.Expect(twerr.IsUser(tr)).To(BeFalse())

	us := twerr.User(base)
	g.Expect(twerr.IsUser(us)).To(BeTrue())
	g.Expect(twerr.IsTransport(us)).To(BeFalse())

	ca := twerr.Cancelled(base)
	g.Expect(twerr.IsCancelled(ca)).To(BeTrue())
	// Cancelled is routed as a transport-like close by the protocol runtime.
	g.Expect(twerr.IsTransport(ca)).To(BeTrue())
}

func TestNilIsSafe(t *testing.T) {
	g := NewWithT(t)

	g.Expect(twerr.Transport(nil)).To(BeNil())
	g.Expect(twerr.IsTransport(nil)).To(BeFalse())
}

func TestDoubleWrapReusesKind(t *testing.T) {
	g := NewWithT(t)

	inner := twerr.User(fmt.Errorf("bad json"))
	outer := twerr.Transport(inner)

	// Transport() sees an already-classified error and must not override
	// its kind: the original raiser's classification wins.
	g.Expect(twerr.IsUser(outer)).To(BeTrue())
}

func TestUnwrap(t *testing.T) {
	g := NewWithT(t)

	base := fmt.Errorf("root cause")
	wrapped := twerr.Transport(base)

	g.Expect(wrapped.Unwrap()).To(Equal(base))
	g.Expect(wrapped.Error()).To(ContainSubstring("root cause"))
}
