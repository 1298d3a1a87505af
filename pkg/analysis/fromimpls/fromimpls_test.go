package fromimpls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/cratescan/pkg/analysis"
	"github.com/matzehuels/cratescan/pkg/rustsyntax"
	"github.com/matzehuels/cratescan/pkg/source"
)

// scan runs the matcher over the given files (path → source) in order.
func scan(t *testing.T, files ...[2]string) analysis.Findings {
	t.Helper()
	p := rustsyntax.NewParser()
	s := New().NewScanner(source.PackageRef{Name: "demo", Version: "0.1.0"})
	for _, f := range files {
		tree, err := p.Parse(source.SourceFile{Path: f[0], Text: []byte(f[1])})
		require.NoError(t, err, f[0])
		s.ScanFile(tree)()
		tree.Close()
	}
	return s.Finish()
}

func records(t *testing.T, f analysis.Findings) []Record {
	t.Helper()
	out := make([]Record, 0, len(f.Records))
	for _, r := range f.Records {
		rec, ok := r.(Record)
		require.True(t, ok)
		out = append(out, rec)
	}
	return out
}

func TestScan_ImplementsFrom(t *testing.T) {
	f := scan(t, [2]string{"src/lib.rs", `
pub struct Meters(pub f64);

impl From<f64> for Meters {
    fn from(v: f64) -> Self { Meters(v) }
}
`})
	recs := records(t, f)
	require.Len(t, recs, 1)
	assert.Equal(t, "Meters", recs[0].Struct)
	assert.Equal(t, "f64", recs[0].FieldType)
	assert.Equal(t, 2, recs[0].Line)
	assert.True(t, recs[0].HasConversion)
	assert.Equal(t, ImplementsFrom, recs[0].Category())
	assert.Equal(t, 1, f.Notes[NoteFromImpls])
}

func TestScan_UncommittedFileContributesNothing(t *testing.T) {
	p := rustsyntax.NewParser()
	s := New().NewScanner(source.PackageRef{Name: "demo", Version: "0.1.0"})

	lib, err := p.Parse(source.SourceFile{Path: "src/lib.rs", Text: []byte("pub struct Meters(f64);\n")})
	require.NoError(t, err)
	s.ScanFile(lib)()
	lib.Close()

	conv, err := p.Parse(source.SourceFile{Path: "src/conv.rs", Text: []byte(`
pub struct Id(u64);
impl From<f64> for Meters {
    fn from(v: f64) -> Self { Meters(v) }
}
`)})
	require.NoError(t, err)
	_ = s.ScanFile(conv)
	conv.Close()

	f := s.Finish()
	recs := records(t, f)
	require.Len(t, recs, 1)
	assert.Equal(t, "Meters", recs[0].Struct)
	assert.Equal(t, MissingFrom, recs[0].Category())
	assert.Equal(t, 0, f.Notes[NoteFromImpls])
}

func TestScan_MissingFrom(t *testing.T) {
	f := scan(t, [2]string{"src/lib.rs", `
struct Id(u64);
impl From<u32> for Id {
    fn from(v: u32) -> Self { Id(v as u64) }
}
`})
	recs := records(t, f)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].HasConversion)
	assert.Equal(t, MissingFrom, recs[0].Category())
}

func TestScan_TwoFieldsProduceNothing(t *testing.T) {
	f := scan(t, [2]string{"src/lib.rs", `
struct Pair(u8, u8);
struct Named { a: u8 }
struct Unit;
struct Empty();
impl From<u8> for Pair {
    fn from(v: u8) -> Self { Pair(v, v) }
}
`})
	assert.Empty(t, f.Records)
}

func TestScan_CrossFileJoin(t *testing.T) {
	f := scan(t,
		[2]string{"src/types.rs", "pub struct Name(String);\n"},
		[2]string{"src/conv.rs", `
use crate::types::Name;
impl std::convert::From<String> for crate::types::Name {
    fn from(s: String) -> Self { Name(s) }
}
`},
	)
	recs := records(t, f)
	require.Len(t, recs, 1)
	assert.Equal(t, "src/types.rs", recs[0].File)
	assert.Equal(t, ImplementsFrom, recs[0].Category())
}

func TestScan_DerivesFrom(t *testing.T) {
	f := scan(t, [2]string{"src/lib.rs", `
#[derive(Debug, Clone, derive_more::From)]
// wrapper
pub struct Token(String);

#[derive(Debug)]
pub struct Plain(String);
`})
	recs := records(t, f)
	require.Len(t, recs, 2)
	assert.Equal(t, "Token", recs[0].Struct)
	assert.Equal(t, DerivesFrom, recs[0].Category())
	assert.True(t, recs[0].HasConversion)
	assert.Equal(t, MissingFrom, recs[1].Category())
}

func TestScan_NormalisesTypes(t *testing.T) {
	f := scan(t, [2]string{"src/lib.rs", `
pub struct Bytes(Vec< u8 >);
impl From<Vec<u8>> for Bytes {
    fn from(v: Vec<u8>) -> Self { Bytes(v) }
}
pub struct Wrapper<T>(T);
impl<T> From<T> for Wrapper<T> {
    fn from(v: T) -> Self { Wrapper(v) }
}
`})
	recs := records(t, f)
	require.Len(t, recs, 2)
	assert.Equal(t, "Vec<u8>", recs[0].FieldType)
	for _, r := range recs {
		assert.Equal(t, ImplementsFrom, r.Category(), r.Struct)
	}
}

func TestScan_NestedStructs(t *testing.T) {
	f := scan(t, [2]string{"src/lib.rs", `
mod inner {
    pub struct Celsius(f32);
}
fn helper() {
    struct Local(i32);
    impl From<i32> for Local {
        fn from(v: i32) -> Self { Local(v) }
    }
}
`})
	recs := records(t, f)
	require.Len(t, recs, 2)
	assert.Equal(t, MissingFrom, recs[0].Category())
	assert.Equal(t, ImplementsFrom, recs[1].Category())
}

func TestScan_IgnoresOtherTraits(t *testing.T) {
	f := scan(t, [2]string{"src/lib.rs", `
struct Id(u64);
impl Into<u64> for Id {
    fn into(self) -> u64 { self.0 }
}
impl TryFrom<u64> for Id {
    type Error = ();
    fn try_from(v: u64) -> Result<Self, ()> { Ok(Id(v)) }
}
`})
	recs := records(t, f)
	require.Len(t, recs, 1)
	assert.Equal(t, MissingFrom, recs[0].Category())
	assert.Equal(t, 0, f.Notes[NoteFromImpls])
}

func TestDeriveListHasFrom(t *testing.T) {
	assert.True(t, deriveListHasFrom("#[derive(From)]"))
	assert.True(t, deriveListHasFrom("#[derive(Debug,derive_more::From)]"))
	assert.False(t, deriveListHasFrom("#[derive(Debug,TryFrom)]"))
	assert.False(t, deriveListHasFrom("#[serde(from=\"u8\")]"))
}

func TestMatcher_Categories(t *testing.T) {
	m := New()
	assert.Equal(t, "from-impls", m.Name())
	assert.Equal(t, []analysis.Category{ImplementsFrom, DerivesFrom, MissingFrom}, m.Categories())
}
