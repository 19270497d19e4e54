// Package bytecode describes JVM bytecode: the opcode table, an
// instruction decoder, a small assembler, and a javap-style disassembler.
//
// # Decoding
//
// Decode turns the instruction at a program counter into an Instruction
// with its operands resolved:
//
//   - Short forms (iload_0 ... astore_3) are normalized so Index always
//     holds the local slot.
//   - Branch offsets are converted to absolute Target offsets.
//   - tableswitch and lookupswitch padding is skipped and their tables are
//     returned as a Switch.
//   - A wide prefix is folded into the modified instruction (Wide is set).
//
// Stream walks a method body in address order and is the building block
// of the block-map builder and the yield classifier.
//
// # Traps
//
// CanTrap lists the instructions that may raise a guest exception. The
// control-flow graph attaches exception-dispatch edges only at these sites.
//
// # Assembling
//
// Assembler emits instructions with symbolic labels and patches branch
// offsets when Bytes is called. Tests and the builtin class library use
// it to produce method bodies without a Java compiler.
package bytecode
