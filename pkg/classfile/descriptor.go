package classfile

import (
	"fmt"
	"strings"
)

// FieldType is a single field descriptor such as "I", "J" or
// "Ljava/lang/String;".
type FieldType string

// Slots returns how many local or stack slots a value of this type occupies.
func (t FieldType) Slots() int {
	switch t {
	case "J", "D":
		return 2
	case "V":
		return 0
	}
	return 1
}

// IsReference reports whether t is an object or array type.
func (t FieldType) IsReference() bool {
	return strings.HasPrefix(string(t), "L") || strings.HasPrefix(string(t), "[")
}

// ClassName returns the class of an object type, or the descriptor itself
// for arrays (which the VM names by descriptor).
func (t FieldType) ClassName() string {
	s := string(t)
	if strings.HasPrefix(s, "L") && strings.HasSuffix(s, ";") {
		return s[1 : len(s)-1]
	}
	return s
}

// MethodDescriptor is a parsed method descriptor.
type MethodDescriptor struct {
	Params []FieldType
	Return FieldType
}

// ArgSlots returns the number of local slots the parameters occupy, not
// counting the receiver.
func (d MethodDescriptor) ArgSlots() int {
	n := 0
	for _, p := range d.Params {
		n += p.Slots()
	}
	return n
}

// ParseMethodDescriptor parses a descriptor such as "(IJLjava/lang/String;)V".
func ParseMethodDescriptor(desc string) (MethodDescriptor, error) {
	if !strings.HasPrefix(desc, "(") {
		return MethodDescriptor{}, fmt.Errorf("classfile: bad method descriptor %q", desc)
	}
	var d MethodDescriptor
	i := 1
	for i < len(desc) && desc[i] != ')' {
		t, n, err := parseFieldType(desc, i)
		if err != nil {
			return MethodDescriptor{}, err
		}
		d.Params = append(d.Params, t)
		i = n
	}
	if i >= len(desc) {
		return MethodDescriptor{}, fmt.Errorf("classfile: unterminated method descriptor %q", desc)
	}
	i++
	if i < len(desc) && desc[i] == 'V' && i == len(desc)-1 {
		d.Return = "V"
		return d, nil
	}
	t, n, err := parseFieldType(desc, i)
	if err != nil {
		return MethodDescriptor{}, err
	}
	if n != len(desc) {
		return MethodDescriptor{}, fmt.Errorf("classfile: trailing bytes in method descriptor %q", desc)
	}
	d.Return = t
	return d, nil
}

// ParseFieldType parses a complete field descriptor.
func ParseFieldType(desc string) (FieldType, error) {
	t, n, err := parseFieldType(desc, 0)
	if err != nil {
		return "", err
	}
	if n != len(desc) {
		return "", fmt.Errorf("classfile: trailing bytes in field descriptor %q", desc)
	}
	return t, nil
}

func parseFieldType(desc string, i int) (FieldType, int, error) {
	start := i
	for i < len(desc) && desc[i] == '[' {
		i++
	}
	if i >= len(desc) {
		return "", 0, fmt.Errorf("classfile: truncated descriptor %q", desc)
	}
	switch desc[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return FieldType(desc[start : i+1]), i + 1, nil
	case 'L':
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			return "", 0, fmt.Errorf("classfile: unterminated class name in %q", desc)
		}
		return FieldType(desc[start : i+end+1]), i + end + 1, nil
	}
	return "", 0, fmt.Errorf("classfile: bad type %q in descriptor %q", desc[i], desc)
}
