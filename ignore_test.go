package fsstream

import "testing"

func TestIgnoreSetUserPatterns(t *testing.T) {
	s := NewIgnoreSet(false, []string{"/w/build"}, nil)
	if !s.IsIgnored("/w/build", nil) {
		t.Error("expected /w/build to be ignored")
	}
	if !s.IsIgnored("/w/build/out.o", nil) {
		t.Error("expected /w/build/out.o to be ignored via the /** suffix form")
	}
	if s.IsIgnored("/w/src/main.go", nil) {
		t.Error("did not expect /w/src/main.go to be ignored")
	}
}

func TestIgnoreSetLearnForget(t *testing.T) {
	s := NewIgnoreSet(false, nil, nil)
	if s.IsIgnored("/w/skip", nil) {
		t.Fatal("should not be ignored yet")
	}
	s.Learn("/w/skip")
	if !s.IsIgnored("/w/skip", nil) {
		t.Error("expected /w/skip to be ignored after Learn")
	}
	if !s.IsIgnored("/w/skip/child", nil) {
		t.Error("expected /w/skip/child to be ignored via the learned /** form")
	}
	s.Forget("/w/skip")
	if s.IsIgnored("/w/skip", nil) {
		t.Error("expected /w/skip to no longer be ignored after Forget")
	}
}

func TestIgnoreSetEditorTempPattern(t *testing.T) {
	s := NewIgnoreSet(true, nil, nil)
	cases := []string{"/w/.file.txt.swp", "/w/file.txt~", "/w/.subl123.tmp"}
	for _, p := range cases {
		if !s.IsIgnored(p, nil) {
			t.Errorf("expected %q to match the editor-temp pattern", p)
		}
	}
	if s.IsIgnored("/w/file.txt", nil) {
		t.Error("did not expect a plain file to be ignored")
	}
}

func TestIgnoreSetEditorTempDisabled(t *testing.T) {
	s := NewIgnoreSet(false, nil, nil)
	if s.IsIgnored("/w/file.txt.swp", nil) {
		t.Error("editor-temp detection should be off when atomicSave is false")
	}
}

func TestIgnoreSetPredicate(t *testing.T) {
	s := NewIgnoreSet(false, nil, []Predicate{
		func(path string, stat *Stat) bool { return stat != nil && stat.Size > 1000 },
	})
	if s.IsIgnored("/w/small", &Stat{Size: 10}) {
		t.Error("small file should not be ignored")
	}
	if !s.IsIgnored("/w/big", &Stat{Size: 2000}) {
		t.Error("big file should be ignored by predicate")
	}
}
