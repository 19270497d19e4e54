package classfile

import "testing"

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc   string
		params []FieldType
		ret    FieldType
		slots  int
	}{
		{"()V", nil, "V", 0},
		{"(II)I", []FieldType{"I", "I"}, "I", 2},
		{"(JLjava/lang/String;D)[I", []FieldType{"J", "Ljava/lang/String;", "D"}, "[I", 5},
		{"([[Ljava/lang/Object;Z)J", []FieldType{"[[Ljava/lang/Object;", "Z"}, "J", 2},
	}
	for _, tt := range tests {
		d, err := ParseMethodDescriptor(tt.desc)
		if err != nil {
			t.Errorf("ParseMethodDescriptor(%q): %v", tt.desc, err)
			continue
		}
		if len(d.Params) != len(tt.params) {
			t.Errorf("%q params = %v, want %v", tt.desc, d.Params, tt.params)
			continue
		}
		for i := range d.Params {
			if d.Params[i] != tt.params[i] {
				t.Errorf("%q param %d = %q, want %q", tt.desc, i, d.Params[i], tt.params[i])
			}
		}
		if d.Return != tt.ret {
			t.Errorf("%q return = %q, want %q", tt.desc, d.Return, tt.ret)
		}
		if d.ArgSlots() != tt.slots {
			t.Errorf("%q ArgSlots() = %d, want %d", tt.desc, d.ArgSlots(), tt.slots)
		}
	}
}

func TestParseMethodDescriptorErrors(t *testing.T) {
	for _, desc := range []string{"", "I", "(I", "(Q)V", "(Ljava/lang/String)V", "()", "()VV"} {
		if _, err := ParseMethodDescriptor(desc); err == nil {
			t.Errorf("ParseMethodDescriptor(%q) succeeded", desc)
		}
	}
}

func TestFieldType(t *testing.T) {
	if FieldType("Ljava/lang/String;").ClassName() != "java/lang/String" {
		t.Error("ClassName of object type")
	}
	if FieldType("[I").ClassName() != "[I" {
		t.Error("ClassName of array type")
	}
	if !FieldType("[J").IsReference() || FieldType("J").IsReference() {
		t.Error("IsReference")
	}
	if _, err := ParseFieldType("II"); err == nil {
		t.Error("ParseFieldType accepted trailing bytes")
	}
}
