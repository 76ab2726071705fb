// Package bytecode provides a small stack-based virtual machine whose
// executable units have the same shape as CPython code objects. It exists so
// that code can be rewritten at the instruction level and executed again.
//
// The bytecode format is designed for:
//   - Fixed-width decoding (every instruction is one 2-byte unit)
//   - Wide operands through EXTENDED_ARG prefixes, as in CPython wordcode
//   - Easy serialization (canonical CBOR, see MarshalChunk)
//
// # Architecture Overview
//
//   - Opcodes: CPython-numbered instructions for constants, locals, namespace
//     access, cells, arithmetic, comparison, jumps and calls
//
//   - Chunk: the compiled body of one function. Code, constant pool, names
//     table, local and cell declarations, flags and line table. Chunks are
//     treated as immutable once built.
//
//   - Builder and Assemble: produce chunks from Go calls or from .exasm text.
//
//   - Decoder: walks a code section and reassembles EXTENDED_ARG operands.
//
//   - Function, Cell, Namespace: a chunk bound to its globals, its defaults
//     and one Cell per free variable.
//
//   - VM: executes functions.
//
// # Scopes
//
// A name is resolved one of three ways, chosen when the chunk is built:
//
//   - LOAD_FAST reads a slot of the frame's locals (VarNames)
//   - LOAD_GLOBAL looks the name up in the function's Namespace, then builtins
//   - LOAD_DEREF reads a Cell; operands index CellVars followed by FreeVars
//
// Cells are shared by pointer, so a value stored through one holder is seen by
// every function closed over the same cell.
package bytecode
