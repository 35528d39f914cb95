package env

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func lookup(list []string, k string) (string, bool) {
	for _, kv := range list {
		if strings.HasPrefix(kv, k+"=") {
			return kv[len(k)+1:], true
		}
	}
	return "", false
}

func TestMerge_Precedence(t *testing.T) {
	t.Setenv("APPVISOR_T_BASE", "os")
	t.Setenv("APPVISOR_T_OVER", "os")
	e := New()
	e.Set("APPVISOR_T_OVER", "global")
	e.Set("APPVISOR_T_GLOBAL", "g")
	out := e.Merge([]string{"APPVISOR_T_GLOBAL=extra", "=skipped", "noequals"})

	v, _ := lookup(out, "APPVISOR_T_BASE")
	assert.Equal(t, "os", v)
	v, _ = lookup(out, "APPVISOR_T_OVER")
	assert.Equal(t, "global", v)
	v, _ = lookup(out, "APPVISOR_T_GLOBAL")
	assert.Equal(t, "extra", v)
	assert.True(t, slices.IsSorted(out))
	for _, kv := range out {
		assert.False(t, strings.HasPrefix(kv, "="))
	}
}

func TestMerge_Expansion(t *testing.T) {
	e := New()
	e.Set("APPVISOR_T_A", "1")
	out := e.Merge([]string{"APPVISOR_T_B=${APPVISOR_T_A}-x"})
	v, _ := lookup(out, "APPVISOR_T_B")
	assert.Equal(t, "1-x", v)
}

func TestPrependPath(t *testing.T) {
	sep := string(filepath.ListSeparator)
	t.Setenv("PATH", "/usr/bin"+sep+"/bin")

	e := New()
	e.PrependPath("/opt/uv/bin")
	v, _ := lookup(e.Merge(nil), "PATH")
	assert.Equal(t, "/opt/uv/bin"+sep+"/usr/bin"+sep+"/bin", v)

	e = New()
	e.PrependPath("/usr/bin")
	v, _ = lookup(e.Merge(nil), "PATH")
	assert.Equal(t, "/usr/bin"+sep+"/bin", v, "already present")

	e = New()
	e.PrependPath("")
	_, set := e.Var["PATH"]
	assert.False(t, set)
}

func TestPrependPath_EmptyBase(t *testing.T) {
	t.Setenv("PATH", "")
	e := New()
	e.PrependPath("/opt/uv/bin")
	v, _ := lookup(e.Merge(nil), "PATH")
	assert.Equal(t, "/opt/uv/bin", v)
}

func FuzzMerge(f *testing.F) {
	f.Add("A=1\nB=${A}-x", "C=${B}-y")
	f.Add("FOO=bar", "FOO=${FOO}")
	f.Add("X=$Y", "Y=${X}")

	f.Fuzz(func(t *testing.T, global, extra string) {
		e := New()
		for _, kv := range strings.Split(global, "\n") {
			if k, v, ok := strings.Cut(kv, "="); ok {
				e.Set(k, v)
			}
		}
		for _, kv := range e.Merge(strings.Split(extra, "\n")) {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
	})
}
