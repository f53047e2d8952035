package patch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSingleFile(t *testing.T) {
	diff := `--- a/foo.txt
+++ b/foo.txt
@@ -1,3 +1,3 @@
 a
-b
+B
 c
`
	files, err := Parse(diff)
	require.NoError(t, err)
	require.Len(t, files, 1)

	f := files[0]
	assert.Equal(t, "foo.txt", f.OldPath)
	assert.Equal(t, "foo.txt", f.NewPath)
	require.Len(t, f.Hunks, 1)

	h := f.Hunks[0]
	assert.Equal(t, 1, h.OldStart)
	assert.Equal(t, 3, h.OldLines)
	assert.Equal(t, []string{" a", "-b", "+B", " c"}, h.Lines)
}

func TestParseTerminatorIsNotAContextLine(t *testing.T) {
	// The final newline of a terminated diff must not parse into a phantom
	// empty context line, or clean diffs stop applying.
	terminated := "--- a/f.txt\n+++ b/f.txt\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n"
	unterminated := strings.TrimSuffix(terminated, "\n")

	for _, diff := range []string{terminated, unterminated} {
		files, err := Parse(diff)
		require.NoError(t, err)
		require.Len(t, files[0].Hunks, 1)
		assert.Equal(t, []string{" a", "-b", "+B", " c"}, files[0].Hunks[0].Lines)

		res := Apply("a\nb\nc\n", files[0].Hunks)
		require.NoError(t, res.Err)
		assert.Equal(t, "a\nB\nc\n", res.Text)
	}
}

func TestParseKeepsInteriorEmptyContextLine(t *testing.T) {
	diff := "--- a/f.txt\n+++ b/f.txt\n@@ -1,3 +1,3 @@\n a\n\n-b\n+B\n"
	files, err := Parse(diff)
	require.NoError(t, err)
	assert.Equal(t, []string{" a", " ", "-b", "+B"}, files[0].Hunks[0].Lines)
}

func TestParseCreateAndDelete(t *testing.T) {
	diff := `--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+hello
+world
--- a/old.txt
+++ /dev/null
@@ -1,1 +0,0 @@
-goodbye
`
	files, err := Parse(diff)
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.True(t, files[0].IsCreate())
	assert.Equal(t, "new.txt", files[0].Path())
	assert.True(t, files[1].IsDelete())
	assert.Equal(t, "old.txt", files[1].Path())
}

func TestParseOmittedCountsDefaultToOne(t *testing.T) {
	diff := `--- a/f
+++ b/f
@@ -2 +2 @@
-b
+B
`
	files, err := Parse(diff)
	require.NoError(t, err)
	h := files[0].Hunks[0]
	assert.Equal(t, 2, h.OldStart)
	assert.Equal(t, 1, h.OldLines)
	assert.Equal(t, 2, h.NewStart)
	assert.Equal(t, 1, h.NewLines)
}

func TestParseMalformedHeader(t *testing.T) {
	_, err := Parse("--- a/f\n+++ b/f\n@@ junk @@\n")
	assert.Error(t, err)
}

func TestParseNoHeaders(t *testing.T) {
	_, err := Parse("just some text")
	assert.Error(t, err)
}

func TestApplyReplaceMiddleLine(t *testing.T) {
	hunks := []Hunk{{
		OldStart: 1, OldLines: 3, NewStart: 1, NewLines: 3,
		Lines: []string{" a", "-b", "+B", " c"},
	}}
	res := Apply("a\nb\nc", hunks)

	require.NoError(t, res.Err)
	assert.Equal(t, "a\nB\nc", res.Text)
	assert.Equal(t, 1, res.AppliedHunks)
	assert.Equal(t, 1, res.TotalHunks)
}

func TestApplyPreservesTrailingNewline(t *testing.T) {
	hunks := []Hunk{{
		OldStart: 1, OldLines: 1, NewStart: 1, NewLines: 1,
		Lines: []string{"-a", "+A"},
	}}
	res := Apply("a\nb\n", append(hunks, Hunk{
		OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 1,
		Lines: []string{" b"},
	}))
	require.NoError(t, res.Err)
	assert.Equal(t, "A\nb\n", res.Text)
}

func TestApplyCRLFTerminatorReused(t *testing.T) {
	hunks := []Hunk{{
		OldStart: 1, OldLines: 2, NewStart: 1, NewLines: 2,
		Lines: []string{" a", "-b", "+B"},
	}}
	res := Apply("a\r\nb\r\n", hunks)
	require.NoError(t, res.Err)
	assert.Equal(t, "a\r\nB\r\n", res.Text)
}

func TestApplyContextMismatch(t *testing.T) {
	hunks := []Hunk{{
		OldStart: 1, OldLines: 2, NewStart: 1, NewLines: 2,
		Lines: []string{" X", "-b", "+B"},
	}}
	res := Apply("a\nb\n", hunks)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "context mismatch")
	assert.Equal(t, 0, res.AppliedHunks)
	assert.Equal(t, 1, res.TotalHunks)
}

func TestApplyDeleteMismatch(t *testing.T) {
	hunks := []Hunk{{
		OldStart: 1, OldLines: 1, NewStart: 1, NewLines: 1,
		Lines: []string{"-X", "+Y"},
	}}
	res := Apply("a\n", hunks)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "delete mismatch")
}

func TestApplyStartOutOfRange(t *testing.T) {
	hunks := []Hunk{{
		OldStart: 99, OldLines: 1, NewStart: 99, NewLines: 1,
		Lines: []string{"-a", "+A"},
	}}
	res := Apply("a\nb\n", hunks)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "start out of range")
}

func TestApplyHunksMustAdvance(t *testing.T) {
	// Second hunk starts before the first one's end: the cursor only moves
	// forward, so this is out of range.
	hunks := []Hunk{
		{OldStart: 3, OldLines: 1, NewStart: 3, NewLines: 1, Lines: []string{"-c", "+C"}},
		{OldStart: 1, OldLines: 1, NewStart: 1, NewLines: 1, Lines: []string{"-a", "+A"}},
	}
	res := Apply("a\nb\nc\nd\n", hunks)
	require.Error(t, res.Err)
	assert.Equal(t, 1, res.AppliedHunks)
	assert.Equal(t, 2, res.TotalHunks)
}

func TestApplyPartialProgressReported(t *testing.T) {
	hunks := []Hunk{
		{OldStart: 1, OldLines: 1, NewStart: 1, NewLines: 1, Lines: []string{"-a", "+A"}},
		{OldStart: 3, OldLines: 1, NewStart: 3, NewLines: 1, Lines: []string{"-X", "+Y"}},
	}
	res := Apply("a\nb\nc\n", hunks)
	require.Error(t, res.Err)
	assert.Equal(t, 1, res.AppliedHunks)
	assert.Equal(t, 2, res.TotalHunks)
}

func TestApplyPureInsertHunk(t *testing.T) {
	// @@ -1,0 +2,1 @@ inserts after line 1.
	hunks := []Hunk{{
		OldStart: 1, OldLines: 0, NewStart: 2, NewLines: 1,
		Lines: []string{"+inserted"},
	}}
	res := Apply("a\nb\n", hunks)
	require.NoError(t, res.Err)
	assert.Equal(t, "a\ninserted\nb\n", res.Text)
}

func TestInvertRoundTrip(t *testing.T) {
	original := "alpha\nbeta\ngamma\ndelta\nepsilon\n"
	hunks := []Hunk{
		{OldStart: 1, OldLines: 3, NewStart: 1, NewLines: 3,
			Lines: []string{" alpha", "-beta", "+BETA", " gamma"}},
		{OldStart: 5, OldLines: 1, NewStart: 5, NewLines: 2,
			Lines: []string{" epsilon", "+zeta"}},
	}

	forward := Apply(original, hunks)
	require.NoError(t, forward.Err)

	back := Apply(forward.Text, Invert(hunks))
	require.NoError(t, back.Err)
	assert.Equal(t, original, back.Text)
}

func TestComputeThenApplyRoundTrip(t *testing.T) {
	oldContent := "one\ntwo\nthree\nfour\nfive\nsix\nseven\n"
	newContent := "one\nTWO\nthree\nfour\nfive\nsix\nseven\nEIGHT\n"

	hunks := Compute(oldContent, newContent)
	require.NotEmpty(t, hunks)

	res := Apply(oldContent, hunks)
	require.NoError(t, res.Err)
	assert.Equal(t, newContent, res.Text)

	// Inverting what Compute produced must round-trip too.
	back := Apply(res.Text, Invert(hunks))
	require.NoError(t, back.Err)
	assert.Equal(t, oldContent, back.Text)
}

func TestParseThenApply(t *testing.T) {
	diff := `--- a/f.txt
+++ b/f.txt
@@ -1,3 +1,3 @@
 a
-b
+B
 c
`
	files, err := Parse(diff)
	require.NoError(t, err)

	res := Apply("a\nb\nc\n", files[0].Hunks)
	require.NoError(t, res.Err)
	assert.Equal(t, "a\nB\nc\n", res.Text)
}

func TestRenderParsesBack(t *testing.T) {
	f := File{
		OldPath: "x.txt",
		NewPath: "x.txt",
		Hunks: []Hunk{{
			OldStart: 1, OldLines: 2, NewStart: 1, NewLines: 2,
			Lines: []string{" a", "-b", "+B"},
		}},
	}
	text := Render(f)
	parsed, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, f.Hunks, parsed[0].Hunks)

	if !strings.Contains(text, "@@ -1,2 +1,2 @@") {
		t.Errorf("unexpected header in %q", text)
	}
}
