package converter

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
)

const jobID = "01890a5d-ac96-774b-bcce-b302099a8057"

func TestOutputName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		ext   string
		want  string
	}{
		{name: "pdf to docx", input: "/tmp/report.pdf", ext: ".docx", want: "converted_report_099a8057.docx"},
		{name: "keeps suffix", input: "notes.txt", ext: ".txt", want: "converted_notes_099a8057.txt"},
		{name: "unsafe characters", input: "my report (v2).docx", ext: ".pdf", want: "converted_my_report_v2_099a8057.pdf"},
		{name: "empty stem", input: ".pdf", ext: ".docx", want: "converted_file_099a8057.docx"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, OutputName(tt.input, jobID, tt.ext))
		})
	}
}

func TestContentType(t *testing.T) {
	t.Parallel()

	require.Equal(t, "application/pdf", ContentType("a.PDF"))
	require.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ContentType("a.docx"))
	require.Equal(t, "application/octet-stream", ContentType("a.unknownext"))
}

func TestRegistryLookupFallsBack(t *testing.T) {
	t.Parallel()

	reg := Default(LibreOfficeConfig{}, zap.NewNop())
	require.True(t, reg.Supports(convert.ConversionPDFToDOCX))
	require.True(t, reg.Supports(convert.ConversionDOCXToPDF))
	require.False(t, reg.Supports("jpg_to_png"))

	require.Equal(t, "libreoffice-docx", reg.Lookup(convert.ConversionPDFToDOCX).Name())
	require.Equal(t, "libreoffice-pdf", reg.Lookup(convert.ConversionDOCXToPDF).Name())
	require.Equal(t, "copy", reg.Lookup("jpg_to_png").Name())
}

func TestCopyConvert(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(input, []byte("jpeg bytes"), 0o600))

	res, err := Copy{}.Convert(context.Background(), Request{JobID: jobID, InputPath: input, OutputDir: dir})
	require.NoError(t, err)
	require.Equal(t, "converted_photo_099a8057.jpg", res.Name)
	require.Equal(t, "image/jpeg", res.ContentType)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, "jpeg bytes", string(data))
}

func TestCopyConvertMissingInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Copy{}.Convert(context.Background(), Request{JobID: jobID, InputPath: filepath.Join(dir, "gone.pdf"), OutputDir: dir})
	require.ErrorContains(t, err, "open input")
}

const fakeSoffice = `#!/bin/sh
out=""; fmt=""; in=""
while [ $# -gt 0 ]; do
  case "$1" in
    --outdir) out="$2"; shift 2;;
    --convert-to) fmt="$2"; shift 2;;
    *) in="$1"; shift;;
  esac
done
ext="${fmt%%:*}"
base=$(basename "$in")
stem="${base%.*}"
cp "$in" "$out/$stem.$ext"
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "soffice")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700))
	return path
}

func TestLibreOfficeConvert(t *testing.T) {
	t.Parallel()

	bin := writeScript(t, fakeSoffice)
	dir := t.TempDir()
	input := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(input, []byte("%PDF-1.4"), 0o600))

	reg := Default(LibreOfficeConfig{Binary: bin}, zap.NewNop())
	res, err := reg.Lookup(convert.ConversionPDFToDOCX).Convert(context.Background(), Request{
		JobID:     jobID,
		InputPath: input,
		OutputDir: dir,
	})
	require.NoError(t, err)
	require.Equal(t, "converted_report_099a8057.docx", res.Name)
	require.FileExists(t, res.Path)
	require.NoFileExists(t, filepath.Join(dir, "report.docx"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), "soffice-profile-", "profile dir should be removed")
	}
}

func TestLibreOfficeFailureIncludesOutput(t *testing.T) {
	t.Parallel()

	bin := writeScript(t, "#!/bin/sh\necho 'source file could not be loaded' >&2\nexit 1\n")
	dir := t.TempDir()
	input := filepath.Join(dir, "broken.docx")
	require.NoError(t, os.WriteFile(input, []byte("nope"), 0o600))

	_, err := NewLibreOffice(LibreOfficeConfig{Binary: bin}, "pdf", "", nil).Convert(context.Background(), Request{
		JobID: jobID, InputPath: input, OutputDir: dir,
	})
	require.ErrorContains(t, err, "source file could not be loaded")
}

func TestLibreOfficeMissingOutput(t *testing.T) {
	t.Parallel()

	bin := writeScript(t, "#!/bin/sh\nexit 0\n")
	dir := t.TempDir()
	input := filepath.Join(dir, "empty.docx")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o600))

	_, err := NewLibreOffice(LibreOfficeConfig{Binary: bin}, "pdf", "", nil).Convert(context.Background(), Request{
		JobID: jobID, InputPath: input, OutputDir: dir,
	})
	require.ErrorIs(t, err, convert.ErrNotFound)
}

func TestLibreOfficeHonorsTimeout(t *testing.T) {
	t.Parallel()

	bin := writeScript(t, "#!/bin/sh\nexec sleep 5\n")
	dir := t.TempDir()
	input := filepath.Join(dir, "slow.docx")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewLibreOffice(LibreOfficeConfig{Binary: bin}, "pdf", "", nil).Convert(ctx, Request{
		JobID: jobID, InputPath: input, OutputDir: dir,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
