package vm

import (
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// Strings hold Go text. Indexes and lengths seen by the guest count UTF-16
// code units.

func utf16Of(s string) []uint16 { return utf16.Encode([]rune(s)) }

func fromUTF16(u []uint16) string { return string(utf16.Decode(u)) }

// javaHash is String.hashCode.
func javaHash(s string) int32 {
	var h int32
	for _, c := range utf16Of(s) {
		h = 31*h + int32(c)
	}
	return h
}

func strArg(args []Value, i int) (string, error) {
	o := args[i].R
	if o == nil {
		return "", javaErrorf(classNullPointer, "null string argument")
	}
	return o.Str, nil
}

func (vm *VM) stringResult(s string) (Value, error) {
	return Ref(vm.NewString(s)), nil
}

// substring slices s in UTF-16 units.
func substring(s string, begin, end int32) (string, error) {
	u := utf16Of(s)
	if begin < 0 || end > int32(len(u)) || begin > end {
		return "", javaErrorf(classStringIndex, "begin %d, end %d, length %d", begin, end, len(u))
	}
	return fromUTF16(u[begin:end]), nil
}

func charsOf(arr *Object) []uint16 {
	u := make([]uint16, len(arr.Elems))
	for i, v := range arr.Elems {
		u[i] = uint16(v.I)
	}
	return u
}

func (vm *VM) registerStringNatives() {
	t := vm.natives
	const cls = "java/lang/String."
	t.Register(cls+"<init>.()V", false, func(ctx *Context, args []Value) (Value, error) {
		receiver(args).Str = ""
		return Void, nil
	})
	t.Register(cls+"<init>.(Ljava/lang/String;)V", false, func(ctx *Context, args []Value) (Value, error) {
		s, err := strArg(args, 1)
		receiver(args).Str = s
		return Void, err
	})
	t.Register(cls+"<init>.([C)V", false, func(ctx *Context, args []Value) (Value, error) {
		arr := args[1].R
		if arr == nil {
			return Void, javaErrorf(classNullPointer, "null char array")
		}
		receiver(args).Str = fromUTF16(charsOf(arr))
		return Void, nil
	})
	t.Register(cls+"<init>.([CII)V", false, func(ctx *Context, args []Value) (Value, error) {
		arr := args[1].R
		if arr == nil {
			return Void, javaErrorf(classNullPointer, "null char array")
		}
		off, n := args[2].AsInt(), args[3].AsInt()
		if off < 0 || n < 0 || int64(off)+int64(n) > int64(len(arr.Elems)) {
			return Void, javaErrorf(classStringIndex, "offset %d, count %d, length %d", off, n, len(arr.Elems))
		}
		receiver(args).Str = fromUTF16(charsOf(arr)[off : off+n])
		return Void, nil
	})
	t.Register(cls+"length.()I", false, func(ctx *Context, args []Value) (Value, error) {
		return Int(int32(len(utf16Of(receiver(args).Str)))), nil
	})
	t.Register(cls+"charAt.(I)C", false, func(ctx *Context, args []Value) (Value, error) {
		u := utf16Of(receiver(args).Str)
		i := args[1].AsInt()
		if i < 0 || i >= int32(len(u)) {
			return Void, javaErrorf(classStringIndex, "index %d, length %d", i, len(u))
		}
		return Int(int32(u[i])), nil
	})
	t.Register(cls+"equals.(Ljava/lang/Object;)Z", false, func(ctx *Context, args []Value) (Value, error) {
		o := args[1].R
		return Bool(o != nil && o.Class == receiver(args).Class && o.Str == receiver(args).Str), nil
	})
	t.Register(cls+"equalsIgnoreCase.(Ljava/lang/String;)Z", false, func(ctx *Context, args []Value) (Value, error) {
		o := args[1].R
		return Bool(o != nil && strings.EqualFold(o.Str, receiver(args).Str)), nil
	})
	t.Register(cls+"hashCode.()I", false, func(ctx *Context, args []Value) (Value, error) {
		return Int(javaHash(receiver(args).Str)), nil
	})
	t.Register(cls+"toString.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return args[0], nil
	})
	t.Register(cls+"compareTo.(Ljava/lang/String;)I", false, func(ctx *Context, args []Value) (Value, error) {
		other, err := strArg(args, 1)
		if err != nil {
			return Void, err
		}
		a, b := utf16Of(receiver(args).Str), utf16Of(other)
		for i := 0; i < min(len(a), len(b)); i++ {
			if a[i] != b[i] {
				return Int(int32(a[i]) - int32(b[i])), nil
			}
		}
		return Int(int32(len(a) - len(b))), nil
	})
	t.Register(cls+"concat.(Ljava/lang/String;)Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		other, err := strArg(args, 1)
		if err != nil {
			return Void, err
		}
		if other == "" {
			return args[0], nil
		}
		return ctx.vm.stringResult(receiver(args).Str + other)
	})
	t.Register(cls+"substring.(I)Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		s := receiver(args).Str
		sub, err := substring(s, args[1].AsInt(), int32(len(utf16Of(s))))
		if err != nil {
			return Void, err
		}
		return ctx.vm.stringResult(sub)
	})
	t.Register(cls+"substring.(II)Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		sub, err := substring(receiver(args).Str, args[1].AsInt(), args[2].AsInt())
		if err != nil {
			return Void, err
		}
		return ctx.vm.stringResult(sub)
	})
	t.Register(cls+"indexOf.(I)I", false, func(ctx *Context, args []Value) (Value, error) {
		c := uint16(args[1].AsInt())
		for i, u := range utf16Of(receiver(args).Str) {
			if u == c {
				return Int(int32(i)), nil
			}
		}
		return Int(-1), nil
	})
	t.Register(cls+"indexOf.(Ljava/lang/String;)I", false, func(ctx *Context, args []Value) (Value, error) {
		needle, err := strArg(args, 1)
		if err != nil {
			return Void, err
		}
		s := receiver(args).Str
		i := strings.Index(s, needle)
		if i < 0 {
			return Int(-1), nil
		}
		return Int(int32(len(utf16Of(s[:i])))), nil
	})
	t.Register(cls+"startsWith.(Ljava/lang/String;)Z", false, func(ctx *Context, args []Value) (Value, error) {
		p, err := strArg(args, 1)
		return Bool(err == nil && strings.HasPrefix(receiver(args).Str, p)), err
	})
	t.Register(cls+"endsWith.(Ljava/lang/String;)Z", false, func(ctx *Context, args []Value) (Value, error) {
		p, err := strArg(args, 1)
		return Bool(err == nil && strings.HasSuffix(receiver(args).Str, p)), err
	})
	t.Register(cls+"toUpperCase.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return ctx.vm.stringResult(strings.ToUpper(receiver(args).Str))
	})
	t.Register(cls+"toLowerCase.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return ctx.vm.stringResult(strings.ToLower(receiver(args).Str))
	})
	t.Register(cls+"trim.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		s := receiver(args).Str
		trimmed := strings.TrimFunc(s, func(r rune) bool { return r <= ' ' })
		if trimmed == s {
			return args[0], nil
		}
		return ctx.vm.stringResult(trimmed)
	})
	t.Register(cls+"toCharArray.()[C", false, func(ctx *Context, args []Value) (Value, error) {
		u := utf16Of(receiver(args).Str)
		arr, err := ctx.newArray("[C", int32(len(u)))
		if err != nil {
			return Void, err
		}
		for i, c := range u {
			arr.Elems[i] = Int(int32(c))
		}
		return Ref(arr), nil
	})
	t.Register(cls+"intern.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return Ref(ctx.vm.Intern(receiver(args).Str)), nil
	})

	t.Register(cls+"valueOf.(I)Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return ctx.vm.stringResult(strconv.FormatInt(int64(args[0].AsInt()), 10))
	})
	t.Register(cls+"valueOf.(J)Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return ctx.vm.stringResult(strconv.FormatInt(args[0].I, 10))
	})
	t.Register(cls+"valueOf.(C)Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return ctx.vm.stringResult(javaChar(args[0]))
	})
	t.Register(cls+"valueOf.(Z)Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return ctx.vm.stringResult(javaBool(args[0]))
	})
	t.Register(cls+"valueOf.(F)Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return ctx.vm.stringResult(javaFloat(args[0].AsFloat()))
	})
	t.Register(cls+"valueOf.(D)Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return ctx.vm.stringResult(javaDouble(args[0].F))
	})
}

// ---------------------------------------------------------------------------
// Formatting shared by String.valueOf, StringBuffer.append and PrintStream
// ---------------------------------------------------------------------------

func javaChar(v Value) string { return fromUTF16([]uint16{uint16(v.I)}) }

func javaBool(v Value) string {
	if v.I != 0 {
		return "true"
	}
	return "false"
}

func javaDouble(f float64) string { return javaFloating(f, 64) }

func javaFloat(f float32) string { return javaFloating(float64(f), 32) }

// javaFloating renders f the way Double.toString and Float.toString do:
// the shortest round-tripping digits, plain notation between 10^-3 and
// 10^7, computerized scientific notation outside it.
func javaFloating(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	if a := math.Abs(f); a >= 1e-3 && a < 1e7 {
		s := strconv.FormatFloat(f, 'f', -1, bits)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(f, 'E', -1, bits)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	neg := strings.HasPrefix(exp, "-")
	exp = strings.TrimLeft(exp, "+-0")
	if exp == "" {
		exp = "0"
	}
	if neg {
		exp = "-" + exp
	}
	return mant + "E" + exp
}

// ---------------------------------------------------------------------------
// StringBuffer and StringBuilder
// ---------------------------------------------------------------------------

func buffer(o *Object) *strings.Builder {
	b, ok := o.Native.(*strings.Builder)
	if !ok {
		b = &strings.Builder{}
		o.Native = b
	}
	return b
}

func (vm *VM) registerStringBufferNatives(class string) {
	t := vm.natives
	self := "L" + class + ";"
	prefix := class + "."
	appender := func(format func(args []Value) string) NativeFunc {
		return func(ctx *Context, args []Value) (Value, error) {
			buffer(receiver(args)).WriteString(format(args))
			return args[0], nil
		}
	}

	t.Register(prefix+"<init>.()V", false, func(ctx *Context, args []Value) (Value, error) {
		buffer(receiver(args))
		return Void, nil
	})
	t.Register(prefix+"<init>.(I)V", false, func(ctx *Context, args []Value) (Value, error) {
		n := args[1].AsInt()
		if n < 0 {
			return Void, javaErrorf(classNegativeArraySize, "%d", n)
		}
		buffer(receiver(args)).Grow(int(n))
		return Void, nil
	})
	t.Register(prefix+"<init>.(Ljava/lang/String;)V", false, func(ctx *Context, args []Value) (Value, error) {
		s, err := strArg(args, 1)
		if err != nil {
			return Void, err
		}
		buffer(receiver(args)).WriteString(s)
		return Void, nil
	})
	t.Register(prefix+"append.(Ljava/lang/String;)"+self, false, appender(func(args []Value) string { return GoString(args[1].R) }))
	t.Register(prefix+"append.(I)"+self, false, appender(func(args []Value) string { return strconv.Itoa(int(args[1].AsInt())) }))
	t.Register(prefix+"append.(J)"+self, false, appender(func(args []Value) string { return strconv.FormatInt(args[1].I, 10) }))
	t.Register(prefix+"append.(C)"+self, false, appender(func(args []Value) string { return javaChar(args[1]) }))
	t.Register(prefix+"append.(Z)"+self, false, appender(func(args []Value) string { return javaBool(args[1]) }))
	t.Register(prefix+"append.(F)"+self, false, appender(func(args []Value) string { return javaFloat(args[1].AsFloat()) }))
	t.Register(prefix+"append.(D)"+self, false, appender(func(args []Value) string { return javaDouble(args[1].F) }))
	t.Register(prefix+"length.()I", false, func(ctx *Context, args []Value) (Value, error) {
		return Int(int32(len(utf16Of(buffer(receiver(args)).String())))), nil
	})
	t.Register(prefix+"setLength.(I)V", false, func(ctx *Context, args []Value) (Value, error) {
		n := args[1].AsInt()
		if n < 0 {
			return Void, javaErrorf(classStringIndex, "%d", n)
		}
		b := buffer(receiver(args))
		u := utf16Of(b.String())
		for int32(len(u)) < n {
			u = append(u, 0)
		}
		s := fromUTF16(u[:n])
		b.Reset()
		b.WriteString(s)
		return Void, nil
	})
	t.Register(prefix+"toString.()Ljava/lang/String;", false, func(ctx *Context, args []Value) (Value, error) {
		return ctx.vm.stringResult(buffer(receiver(args)).String())
	})
}

// ---------------------------------------------------------------------------
// PrintStream
// ---------------------------------------------------------------------------

func (vm *VM) registerPrintStreamNatives() {
	t := vm.natives
	const cls = "java/io/PrintStream."
	printer := func(newline bool, format func(args []Value) string) NativeFunc {
		return func(ctx *Context, args []Value) (Value, error) {
			w, ok := receiver(args).Native.(io.Writer)
			if !ok {
				return Void, nil
			}
			s := format(args)
			if newline {
				s += "\n"
			}
			if _, err := io.WriteString(w, s); err != nil {
				log.Warningf("print: %s", err)
			}
			return Void, nil
		}
	}
	formats := map[string]func(args []Value) string{
		"(Ljava/lang/String;)V": func(args []Value) string { return GoString(args[1].R) },
		"(I)V":                  func(args []Value) string { return strconv.Itoa(int(args[1].AsInt())) },
		"(J)V":                  func(args []Value) string { return strconv.FormatInt(args[1].I, 10) },
		"(C)V":                  func(args []Value) string { return javaChar(args[1]) },
		"(Z)V":                  func(args []Value) string { return javaBool(args[1]) },
		"(F)V":                  func(args []Value) string { return javaFloat(args[1].AsFloat()) },
		"(D)V":                  func(args []Value) string { return javaDouble(args[1].F) },
	}
	for desc, format := range formats {
		t.Register(cls+"print."+desc, false, printer(false, format))
		t.Register(cls+"println."+desc, false, printer(true, format))
	}
	t.Register(cls+"println.()V", false, printer(true, func([]Value) string { return "" }))
	t.Register(cls+"flush.()V", false, func(ctx *Context, args []Value) (Value, error) {
		if f, ok := receiver(args).Native.(interface{ Sync() error }); ok {
			_ = f.Sync()
		}
		return Void, nil
	})
}
