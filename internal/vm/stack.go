package vm

import (
	"strings"

	"github.com/joeycumines/go-tinykernel/internal/trapframe"
)

// MaxArgs is the tokenizer's cap on argument count, matching process_exec's char *argv[128].
const MaxArgs = 128

// Tokenize splits cmdline on ASCII spaces, dropping empty fields the way
// strtok_r does, and truncates to MaxArgs tokens.
func Tokenize(cmdline string) []string {
	fields := strings.FieldsFunc(cmdline, func(r rune) bool { return r == ' ' })
	if len(fields) > MaxArgs {
		fields = fields[:MaxArgs]
	}
	return fields
}

// SetupStack maps one zeroed page at UserStack-PageSize and returns the
// initial stack pointer, UserStack — process.c's setup_stack.
func SetupStack(space *Space) (rsp uint64, err error) {
	if _, err := space.MapPage(UserStack-PageSize, true); err != nil {
		return 0, err
	}
	return UserStack, nil
}

// ArgumentStack lays out argv on the user stack and points frame's stack and
// argument registers at it, following process.c's argument_stack algorithm
//:
// 1. push each token (with its NUL) right-to-left, recording addresses;
// 2. pad down to an 8-byte boundary;
// 3. push a NULL argv[n] sentinel, then each address right-to-left;
// 4. push an 8-byte fake return address of zero;
// 5. set rdi=argc, rsi=address of argv[0].
func ArgumentStack(frame *trapframe.Frame, space *Space, argv []string) error {
	rsp := frame.RSP
	addrs := make([]uint64, len(argv))

	for i := len(argv) - 1; i >= 0; i-- {
		tok := append([]byte(argv[i]), 0)
		rsp -= uint64(len(tok))
		if err := space.WriteAt(rsp, tok); err != nil {
			return err
		}
		addrs[i] = rsp
	}

	for rsp%8 != 0 {
		rsp--
		if err := space.WriteAt(rsp, []byte{0}); err != nil {
			return err
		}
	}

	rsp -= 8
	if err := space.WriteAt(rsp, encodeU64(0)); err != nil {
		return err
	}
	for i := len(addrs) - 1; i >= 0; i-- {
		rsp -= 8
		if err := space.WriteAt(rsp, encodeU64(addrs[i])); err != nil {
			return err
		}
	}
	argv0 := rsp

	rsp -= 8
	if err := space.WriteAt(rsp, encodeU64(0)); err != nil {
		return err
	}

	frame.RSP = rsp
	frame.RDI = uint64(len(argv))
	frame.RSI = argv0
	return nil
}

func encodeU64(v uint64) []byte {
	return []byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	}
}
