package balance

import (
	"testing"

	"sfu-gateway/internal/model"
)

func status(producers, consumers int) model.SfuStatus {
	return model.SfuStatus{Endpoint: "127.0.0.1:1", Producers: producers, Consumers: consumers}
}

func TestNew_defaultMaxLoad(t *testing.T) {
	if p := New(0); p.MaxLoad != DefaultMaxLoad {
		t.Errorf("MaxLoad = %d, want %d", p.MaxLoad, DefaultMaxLoad)
	}
	if p := New(40); p.MaxLoad != 40 {
		t.Errorf("MaxLoad = %d, want 40", p.MaxLoad)
	}
}

func TestPolicy_Clamp(t *testing.T) {
	p := New(500)
	if got := p.Clamp(499); got != 499 {
		t.Errorf("Clamp(499) = %d", got)
	}
	if got := p.Clamp(500); got != overflowLoad {
		t.Errorf("Clamp(500) = %d, want %d", got, overflowLoad)
	}
	if got := p.Clamp(10000); got != overflowLoad {
		t.Errorf("Clamp(10000) = %d, want %d", got, overflowLoad)
	}
}

func TestPolicy_Qualifying(t *testing.T) {
	p := New(500)
	candidates := []Candidate{
		{ID: "full", Status: status(250, 250)},
		{ID: "almost", Status: status(250, 240)},
		{ID: "empty", Status: status(0, 0)},
	}

	t.Run("filters by headroom", func(t *testing.T) {
		got := p.Qualifying(candidates, 20)
		if len(got) != 1 || got[0].ID != "empty" {
			t.Errorf("got %v", got)
		}
	})

	t.Run("oversized load is clamped", func(t *testing.T) {
		got := p.Qualifying(candidates, 800)
		if len(got) != 2 {
			t.Fatalf("expected almost and empty, got %v", got)
		}
		if got[0].ID != "almost" || got[1].ID != "empty" {
			t.Errorf("order not preserved: %v", got)
		}
	})
}

func TestPolicy_Pick(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Status: status(10, 10)},
		{ID: "b", Status: status(0, 0)},
		{ID: "c", Status: status(490, 10)},
	}

	t.Run("only qualifying ids are chosen", func(t *testing.T) {
		p := New(500)
		seen := map[model.SfuID]bool{}
		for i := 0; i < 200; i++ {
			id, ok, ignored := p.Pick(candidates, 50, "")
			if !ok || ignored {
				t.Fatalf("Pick: ok=%v ignored=%v", ok, ignored)
			}
			if id == "c" {
				t.Fatal("picked an SFU without headroom")
			}
			seen[id] = true
		}
		if !seen["a"] || !seen["b"] {
			t.Errorf("expected a spread over a and b, saw %v", seen)
		}
	})

	t.Run("tie break is random not lowest load", func(t *testing.T) {
		p := New(500).WithRand(func(n int) int { return 0 })
		id, _, _ := p.Pick(candidates, 50, "")
		if id != "a" {
			t.Errorf("expected first qualifying candidate with fixed rand, got %s", id)
		}
	})

	t.Run("exclusion", func(t *testing.T) {
		p := New(500)
		for i := 0; i < 100; i++ {
			id, _, _ := p.Pick(candidates, 50, "a")
			if id != "b" {
				t.Fatalf("expected b, got %s", id)
			}
		}
	})

	t.Run("exclusion ignored when it would empty the result", func(t *testing.T) {
		p := New(500)
		id, ok, ignored := p.Pick(candidates, 490, "b")
		if !ok || id != "b" || !ignored {
			t.Errorf("got id=%s ok=%v ignored=%v", id, ok, ignored)
		}
	})

	t.Run("nothing qualifies", func(t *testing.T) {
		p := New(500)
		full := []Candidate{{ID: "x", Status: status(300, 200)}}
		if _, ok, _ := p.Pick(full, 10, ""); ok {
			t.Error("expected ok=false")
		}
	})
}

func TestExclude(t *testing.T) {
	ids := []model.SfuID{"a", "b"}

	out, ignored := Exclude(ids, "")
	if len(out) != 2 || ignored {
		t.Errorf("empty exclude: %v %v", out, ignored)
	}

	out, ignored = Exclude(ids, "a")
	if len(out) != 1 || out[0] != "b" || ignored {
		t.Errorf("exclude a: %v %v", out, ignored)
	}

	out, ignored = Exclude([]model.SfuID{"a"}, "a")
	if len(out) != 1 || out[0] != "a" || !ignored {
		t.Errorf("only a: %v %v", out, ignored)
	}

	out, ignored = Exclude(nil, "a")
	if len(out) != 0 || ignored {
		t.Errorf("nil: %v %v", out, ignored)
	}
}
