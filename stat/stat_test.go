package stat

import "testing"

func TestAccessors(t *testing.T) {
	var st Stat_t
	st.Wdev(7)
	st.Wino(42)
	st.Wmode(0755)
	st.Wsize(1024)
	st.Wrdev(0)
	if st.Rino() != 42 || st.Mode() != 0755 || st.Size() != 1024 {
		t.Fatal("accessor mismatch")
	}
	if len(st.Bytes()) == 0 {
		t.Fatal("expected non-empty byte view")
	}
}
