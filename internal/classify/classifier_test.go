package classify

import (
	"testing"

	"github.com/tinred-labs/jack/internal/session"
)

func TestClassify_Greeting(t *testing.T) {
	s := session.NewSession("1")
	intent, _ := Classify("Hola", s)
	if intent != Greeting {
		t.Errorf("intent = %s, want %s", intent, Greeting)
	}
}

func TestClassify_EmissionCue(t *testing.T) {
	s := session.NewSession("1")
	intent, _ := Classify("quiero emitir una factura", s)
	if intent != EmitInvoice {
		t.Errorf("intent = %s, want %s", intent, EmitInvoice)
	}
}

func TestClassify_ActiveEmissionPrefersEmitInvoiceOnBareID(t *testing.T) {
	s := session.NewSession("1")
	s.Emission.DocKind = session.DocReceipt

	intent, _ := Classify("12345678", s)
	if intent != EmitInvoice {
		t.Errorf("intent = %s, want %s", intent, EmitInvoice)
	}
}

func TestClassify_ActiveEmissionShortNegativeIsCancel(t *testing.T) {
	s := session.NewSession("1")
	s.Emission.DocKind = session.DocReceipt

	intent, _ := Classify("no", s)
	if intent != Cancel {
		t.Errorf("intent = %s, want %s", intent, Cancel)
	}
}

func TestClassify_AwaitingConfirmationAffirmative(t *testing.T) {
	s := session.NewSession("1")
	s.AwaitingConfirmation = true

	intent, _ := Classify("sí", s)
	if intent != Confirmation {
		t.Errorf("intent = %s, want %s", intent, Confirmation)
	}
}

func TestClassify_BareNumberResolvesAgainstExplicitContext(t *testing.T) {
	s := session.NewSession("1")
	s.ConvContext.Kind = session.CtxSearchResults

	intent, _ := Classify("2", s)
	if intent != QueryProducts {
		t.Errorf("intent = %s, want %s", intent, QueryProducts)
	}
}

func TestClassify_BareNumberResolvesAgainstInferredHistoryContext(t *testing.T) {
	s := session.NewSession("1")
	s.AddMessage("assistant", "📊 Tu historial, Juan\n\nÚltimas emisiones", 20)

	intent, _ := Classify("3", s)
	if intent != QueryHistory {
		t.Errorf("intent = %s, want %s", intent, QueryHistory)
	}
}

func TestClassify_ProductsCue(t *testing.T) {
	s := session.NewSession("1")
	intent, _ := Classify("muéstrame los productos", s)
	if intent != QueryProducts {
		t.Errorf("intent = %s, want %s", intent, QueryProducts)
	}
}

func TestClassify_HistoryCue(t *testing.T) {
	s := session.NewSession("1")
	intent, _ := Classify("quiero ver mi historial", s)
	if intent != QueryHistory {
		t.Errorf("intent = %s, want %s", intent, QueryHistory)
	}
}

func TestClassify_GeneralQuestionCue(t *testing.T) {
	s := session.NewSession("1")
	intent, _ := Classify("¿cuál es la diferencia entre factura y boleta?", s)
	if intent != GeneralQuestion {
		t.Errorf("intent = %s, want %s", intent, GeneralQuestion)
	}
}

func TestClassify_UnknownFallback(t *testing.T) {
	s := session.NewSession("1")
	intent, _ := Classify("xyzzy plugh", s)
	if intent != Unknown {
		t.Errorf("intent = %s, want %s", intent, Unknown)
	}
}

func TestIsConfirmationAndIsCancellation(t *testing.T) {
	cases := []struct {
		text    string
		confirm bool
		cancel  bool
	}{
		{"sí", true, false},
		{"dale", true, false},
		{"no", false, true},
		{"cancelar", false, true},
		{"tal vez", false, false},
	}
	for _, c := range cases {
		if got := IsConfirmation(c.text); got != c.confirm {
			t.Errorf("IsConfirmation(%q) = %v, want %v", c.text, got, c.confirm)
		}
		if got := IsCancellation(c.text); got != c.cancel {
			t.Errorf("IsCancellation(%q) = %v, want %v", c.text, got, c.cancel)
		}
	}
}
