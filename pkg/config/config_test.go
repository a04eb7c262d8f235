package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/serianalyzer/internal/analysis"
	"github.com/715d/serianalyzer/pkg/jtype"
)

const sampleRules = `
# comment
N sun.misc.Unsafe::allocateInstance [(Ljava/lang/Class;)Ljava/lang/Object;]
C java.lang.System::getProperty [(Ljava/lang/String;)Ljava/lang/String;]
S org.example.Registry::register [(Ljava/lang/Object;)V]
U java.lang.Object->getClass [()Ljava/lang/Class;]
P org.example.ui.
I java.util.
X unknown line is only warned
`

func ref(typ, method, desc string, static bool) *analysis.MethodRef {
	return analysis.NewMethodRef(analysis.Key{Type: typ, Method: method, Desc: desc, Static: static})
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    analysis.Key
		wantErr bool
	}{
		{
			name: "instance",
			in:   "java.lang.Object->hashCode [()I]",
			want: analysis.Key{Type: "java.lang.Object", Method: "hashCode", Desc: "()I"},
		},
		{
			name: "static without spaces",
			in:   "a.B::c[(I)V]",
			want: analysis.Key{Type: "a.B", Method: "c", Desc: "(I)V", Static: true},
		},
		{
			name: "constructor of nested class",
			in:   "a.B$C-><init> [()V]",
			want: analysis.Key{Type: "a.B$C", Method: "<init>", Desc: "()V"},
		},
		{name: "missing separator", in: "a.B.c [()V]", wantErr: true},
		{name: "missing descriptor", in: "a.B->c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRule)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRulePredicates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Rules.Read(strings.NewReader(sampleRules)))

	require.True(t, cfg.IsNativeWhitelisted(ref("sun.misc.Unsafe", "allocateInstance", "(Ljava/lang/Class;)Ljava/lang/Object;", true)))
	require.False(t, cfg.IsNativeWhitelisted(ref("sun.misc.Unsafe", "allocateInstance", "(Ljava/lang/Class;)Ljava/lang/Object;", false)))
	require.True(t, cfg.IsWhitelisted(ref("java.lang.System", "getProperty", "(Ljava/lang/String;)Ljava/lang/String;", true)))
	require.True(t, cfg.IsStaticPutWhitelisted(ref("org.example.Registry", "register", "(Ljava/lang/Object;)V", true)))
	require.Equal(t, []analysis.Key{
		{Type: "sun.misc.Unsafe", Method: "allocateInstance", Desc: "(Ljava/lang/Class;)Ljava/lang/Object;", Static: true},
	}, cfg.NativeWhitelist())

	getClass := ref("java.lang.Object", "getClass", "()Ljava/lang/Class;", false)
	require.True(t, cfg.IsUntaintReturn(getClass))
	iface := analysis.NewMethodRef(analysis.Key{Type: "java.lang.Object", Method: "getClass", Desc: "()Ljava/lang/Class;", Interface: true})
	require.True(t, cfg.IsUntaintReturn(iface), "interface flag is not part of rule matching")

	require.True(t, cfg.IsWhitelistedClass("org.example.ui.Button"))
	require.True(t, cfg.IsWhitelistedClass("javax.swing.JTable"))
	require.False(t, cfg.IsWhitelistedClass("org.example.model.Item"))
	require.True(t, cfg.IsConsiderInstantiable("java.util.HashMap"))
	require.False(t, cfg.IsConsiderInstantiable("java.lang.Thread"))
}

func TestIsWhitelisted(t *testing.T) {
	cfg := Default()
	require.True(t, cfg.IsWhitelisted(ref("java.lang.Object[]", "clone", "()Ljava/lang/Object;", false)))
	require.False(t, cfg.IsWhitelisted(ref("java.lang.Object", "clone", "()Ljava/lang/Object;", false)))

	// The observed target type decides for ignored packages.
	r := ref("java.lang.Runnable", "run", "()V", false)
	require.False(t, cfg.IsWhitelisted(r))
	r.SetTargetType(jtype.FromClassName("javax.swing.Timer"))
	require.True(t, cfg.IsWhitelisted(r))
}

func TestReadInvalidRule(t *testing.T) {
	err := NewRules().Read(strings.NewReader("# ok\nC broken rule\n"))
	require.ErrorIs(t, err, ErrInvalidRule)
	require.ErrorContains(t, err, "line 2")
}

func TestHeuristics(t *testing.T) {
	cfg := Default()
	fixed, ok := cfg.FixedType(ref("java.io.ObjectInput", "readObject", "()Ljava/lang/Object;", false))
	require.True(t, ok)
	require.Equal(t, "java.io.ObjectInputStream", fixed)
	fixed, ok = cfg.FixedType(ref("java.io.ObjectInputStream", "readObject", "()Ljava/lang/Object;", false))
	require.True(t, ok)
	require.Equal(t, "java.io.ObjectInputStream", fixed)
	_, ok = cfg.FixedType(ref("java.util.Map", "get", "(Ljava/lang/Object;)Ljava/lang/Object;", false))
	require.False(t, ok)

	require.True(t, cfg.RestrictToSerializable(ref("java.lang.Runnable", "run", "()V", false)))
	require.True(t, cfg.RestrictToSerializable(ref("java.util.Enumeration", "nextElement", "()Ljava/lang/Object;", false)))

	cfg.UseHeuristics = false
	_, ok = cfg.FixedType(ref("java.io.ObjectInput", "readObject", "()Ljava/lang/Object;", false))
	require.False(t, ok)
	require.False(t, cfg.RestrictToSerializable(ref("java.lang.Runnable", "run", "()V", false)))
}

func TestIsExtraCheckMethod(t *testing.T) {
	getter := analysis.Key{Type: "a.B", Method: "getName", Desc: "()Ljava/lang/String;"}
	zero := analysis.Key{Type: "a.B", Method: "close", Desc: "()V"}
	defCtor := analysis.Key{Type: "a.B", Method: "<init>", Desc: "()V"}
	strCtor := analysis.Key{Type: "a.B", Method: "<init>", Desc: "(Ljava/lang/String;)V"}
	clinit := analysis.Key{Type: "a.B", Method: "<clinit>", Desc: "()V"}

	tests := []struct {
		set  InitialSet
		want map[analysis.Key]bool
	}{
		{InitialJava, map[analysis.Key]bool{}},
		{InitialGetters, map[analysis.Key]bool{getter: true}},
		{InitialZeroArg, map[analysis.Key]bool{getter: true, zero: true}},
		{InitialDefaultConst, map[analysis.Key]bool{defCtor: true}},
		{InitialStringConst, map[analysis.Key]bool{strCtor: true}},
	}
	for _, tt := range tests {
		t.Run(string(tt.set), func(t *testing.T) {
			cfg := Default()
			cfg.InitialSet = tt.set
			for _, k := range []analysis.Key{getter, zero, defCtor, strCtor, clinit} {
				require.Equal(t, tt.want[k], cfg.IsExtraCheckMethod(k), k.String())
			}
		})
	}
}

func TestLoadSettings(t *testing.T) {
	cfg := Default()
	err := cfg.LoadSettings(strings.NewReader(`
heuristics: false
maxChecksPerReference: 3
initialSet: Getters
rules:
  - "P com.example.generated."
`))
	require.NoError(t, err)
	require.False(t, cfg.UseHeuristics)
	require.Equal(t, 3, cfg.MaxChecksPerReference)
	require.Equal(t, InitialGetters, cfg.InitialSet)
	require.Equal(t, 5, cfg.MaxDisplayDumps)
	require.True(t, cfg.IsWhitelistedClass("com.example.generated.Foo"))

	require.NoError(t, Default().LoadSettings(strings.NewReader("")))
	require.Error(t, Default().LoadSettings(strings.NewReader("initialSet: everything\n")))
	require.Error(t, Default().LoadSettings(strings.NewReader("unknownKey: 1\n")))
	require.Error(t, Default().LoadSettings(strings.NewReader("maxChecksPerReference: 0\n")))
}
