// Package bytecode defines the instruction set executed by package vm and
// the tools that work on instruction streams.
//
// An instruction is one opcode cell followed by a fixed number of operand
// cells. The opcode numbering is closed: identifiers 0 through 172 form the
// stable instruction set, and identifiers from firstfake (173) onward are
// pseudo-opcodes the loader may rewrite calls into. casetbl is the only
// instruction whose length depends on its own operands.
//
// # Components
//
//   - Opcodes: the 212-entry table with mnemonics, operand widths, and
//     whether the compiler emits the instruction.
//
//   - Walk: decoding of instruction streams, used by the linker to verify
//     code and by the disassembler.
//
//   - Program and Builder: the compiled unit handed to the linker, and a
//     programmatic way to build one with labels and forward references.
//
//   - Assemble: a small textual assembler on top of Builder.
//
//   - Disassemble: human-readable listings.
//
// # Addresses
//
// All addresses are byte offsets. Code addresses index the instruction
// stream, so the instruction at cell i lives at address 4*i. Data addresses
// index the data section, which the VM places at the bottom of its memory.
//
// Operand widths of instructions the compiler never emits are recorded
// from their documented encodings so that foreign streams still decode.
package bytecode
