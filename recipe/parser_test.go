package recipe

import (
	"strings"
	"testing"
)

const sample = `# base image
FROM alpine:3.19
LABEL maintainer=wharf
ENV PATH=/usr/local/bin:/usr/bin
RUN apk add --no-cache \
    curl \
    git
WORKDIR /app
COPY . /app
EXPOSE 8080
USER nobody
ENTRYPOINT ["/app/run"]
CMD ["--help"]
`

func TestParseDeterministic(t *testing.T) {
	r1, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("first parse: %v", err)
	}
	r2, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("second parse: %v", err)
	}

	if len(r1.Instructions) != len(r2.Instructions) {
		t.Fatalf("instruction count differs: %d vs %d", len(r1.Instructions), len(r2.Instructions))
	}
	for i := range r1.Instructions {
		a, b := r1.Instructions[i], r2.Instructions[i]
		if a.Keyword != b.Keyword || a.Raw != b.Raw || a.Line != b.Line {
			t.Fatalf("instruction %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestParseAggregates(t *testing.T) {
	rec, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Base != "alpine:3.19" {
		t.Errorf("Base = %q", rec.Base)
	}
	if rec.Labels["maintainer"] != "wharf" {
		t.Errorf("Labels[maintainer] = %q", rec.Labels["maintainer"])
	}
	if rec.WorkDir != "/app" {
		t.Errorf("WorkDir = %q", rec.WorkDir)
	}
	if rec.User != "nobody" {
		t.Errorf("User = %q", rec.User)
	}
	if len(rec.Entrypoint) != 1 || rec.Entrypoint[0] != "/app/run" {
		t.Errorf("Entrypoint = %v", rec.Entrypoint)
	}
	if len(rec.Cmd) != 1 || rec.Cmd[0] != "--help" {
		t.Errorf("Cmd = %v", rec.Cmd)
	}
	if len(rec.Exposed) != 1 || rec.Exposed[0] != "8080" {
		t.Errorf("Exposed = %v", rec.Exposed)
	}

	var runLine *Instruction
	for i := range rec.Instructions {
		if rec.Instructions[i].Keyword == Run {
			runLine = &rec.Instructions[i]
			break
		}
	}
	if runLine == nil {
		t.Fatal("no RUN instruction found")
	}
	if !strings.Contains(runLine.Raw, "curl") || !strings.Contains(runLine.Raw, "git") {
		t.Errorf("RUN continuation not joined, got %q", runLine.Raw)
	}
}

func TestParseFromMustBeFirst(t *testing.T) {
	_, err := Parse(strings.NewReader("LABEL a=b\nFROM alpine\n"))
	if err == nil {
		t.Fatal("expected error when FROM is not first")
	}
}

func TestParseEmptyRecipeRejected(t *testing.T) {
	_, err := Parse(strings.NewReader("# just a comment\n\n"))
	if err == nil {
		t.Fatal("expected error for empty recipe")
	}
}

func TestParseUnknownKeywordWarnsNotFails(t *testing.T) {
	rec, err := Parse(strings.NewReader("FROM scratch\nNOPE arg\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Instructions) != 1 {
		t.Fatalf("expected 1 effective instruction, got %d", len(rec.Instructions))
	}
	if len(rec.Warnings) == 0 {
		t.Error("expected a warning about the unknown instruction")
	}
}

func TestParseEntrypointAndCmdWarns(t *testing.T) {
	rec, err := Parse(strings.NewReader(`FROM alpine
ENTRYPOINT ["/bin/sh"]
CMD ["-c", "echo hi"]
`))
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range rec.Warnings {
		if strings.Contains(w, "ENTRYPOINT and CMD") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ENTRYPOINT+CMD coexistence warning, got %v", rec.Warnings)
	}
}

func TestParseAddCopyRequiresSrcDest(t *testing.T) {
	rec, err := Parse(strings.NewReader("FROM alpine\nCOPY onlyone\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Warnings) == 0 {
		t.Error("expected warning for malformed COPY")
	}
}

func TestParseCopySrcDest(t *testing.T) {
	rec, err := Parse(strings.NewReader("FROM alpine\nCOPY app.bin /bin/app\n"))
	if err != nil {
		t.Fatal(err)
	}
	var cp *Instruction
	for i := range rec.Instructions {
		if rec.Instructions[i].Keyword == Copy {
			cp = &rec.Instructions[i]
		}
	}
	if cp == nil {
		t.Fatal("no COPY instruction")
	}
	if cp.Src != "app.bin" || cp.Dest != "/bin/app" {
		t.Errorf("Src/Dest = %q/%q", cp.Src, cp.Dest)
	}
}
