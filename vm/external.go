package vm

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// External functions
// ---------------------------------------------------------------------------

// ExternalContext is what an external function gets to work with: the
// machine for shared state, the calling process for allocation, and the
// worker it runs on.
type ExternalContext struct {
	Machine *Machine
	Process *Process
	Worker  *Worker
}

// Int boxes an integer in the calling process's heap.
func (c *ExternalContext) Int(n int64) Value {
	if v, ok := TryFromSmallInt(n); ok {
		return v
	}
	return c.Process.Heap().AllocateValue(
		c.Machine.Classes.BigInt, &BigIntPayload{Int: big.NewInt(n)})
}

// String boxes a string in the calling process's heap.
func (c *ExternalContext) String(s string) Value {
	return c.Process.Heap().AllocateValue(
		c.Machine.Classes.String, &StringPayload{Value: s})
}

// Bytes boxes a byte slice in the calling process's heap.
func (c *ExternalContext) Bytes(b []byte) Value {
	return c.Process.Heap().AllocateValue(
		c.Machine.Classes.ByteArray, &ByteArrayPayload{Bytes: b})
}

// Array boxes a slice of values in the calling process's heap.
func (c *ExternalContext) Array(values []Value) Value {
	return c.Process.Heap().AllocateValue(
		c.Machine.Classes.Array, &ArrayPayload{Values: values})
}

// ExternalFunction is a function callable through the
// ExternalFunctionCall instruction. Returning a *WouldBlock error parks
// the process in the reactor and retries the call on readiness; any
// other error is thrown (errno) or panics the process (everything
// else).
type ExternalFunction func(*ExternalContext, []Value) (Value, error)

// WouldBlock reports that a non-blocking operation on FD cannot make
// progress until the descriptor is ready for Interest.
type WouldBlock struct {
	FD       int
	Interest IOInterest
}

func (w *WouldBlock) Error() string {
	return fmt.Sprintf("fd %d would block", w.FD)
}

// ExternalRegistry maps names to external functions. Registration
// happens at machine bootstrap; lookups run on every worker.
type ExternalRegistry struct {
	mu  sync.RWMutex
	fns map[string]ExternalFunction
}

// NewExternalRegistry creates a registry preloaded with the builtin
// functions.
func NewExternalRegistry() *ExternalRegistry {
	r := &ExternalRegistry{fns: make(map[string]ExternalFunction)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a function under name.
func (r *ExternalRegistry) Register(name string, fn ExternalFunction) {
	r.mu.Lock()
	r.fns[name] = fn
	r.mu.Unlock()
}

// Get returns the function registered under name.
func (r *ExternalRegistry) Get(name string) (ExternalFunction, bool) {
	r.mu.RLock()
	fn, ok := r.fns[name]
	r.mu.RUnlock()
	return fn, ok
}

// Names returns the registered function names, for diagnostics.
func (r *ExternalRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	return names
}

// unwrapErrno peels os wrappers off an error so the interpreter can
// throw the raw errno; errors without one pass through and panic the
// process instead.
func unwrapErrno(err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return err
}

// ---------------------------------------------------------------------------
// Argument extraction
// ---------------------------------------------------------------------------

func externalArg(args []Value, index int) (Value, error) {
	if index >= len(args) {
		return Undefined, fmt.Errorf("missing argument %d", index)
	}
	return args[index], nil
}

func externalString(args []Value, index int) (string, error) {
	v, err := externalArg(args, index)
	if err != nil {
		return "", err
	}
	if p, ok := stringPayloadOf(v); ok {
		return p.Value, nil
	}
	return "", fmt.Errorf("argument %d must be a string", index)
}

func externalInt(args []Value, index int) (int64, error) {
	v, err := externalArg(args, index)
	if err != nil {
		return 0, err
	}
	if v.IsSmallInt() {
		return v.SmallInt(), nil
	}
	if v.IsObject() {
		if p, ok := ObjectFromValue(v).Payload().(*BigIntPayload); ok && p.Int.IsInt64() {
			return p.Int.Int64(), nil
		}
	}
	return 0, fmt.Errorf("argument %d must be an integer", index)
}

func externalBytes(args []Value, index int) ([]byte, error) {
	v, err := externalArg(args, index)
	if err != nil {
		return nil, err
	}
	if v.IsObject() {
		switch p := ObjectFromValue(v).Payload().(type) {
		case *StringPayload:
			return []byte(p.Value), nil
		case *ByteArrayPayload:
			return p.Bytes, nil
		}
	}
	return nil, fmt.Errorf("argument %d must be a string or byte array", index)
}

func externalFile(args []Value, index int) (*FilePayload, error) {
	v, err := externalArg(args, index)
	if err != nil {
		return nil, err
	}
	if v.IsObject() {
		if p, ok := ObjectFromValue(v).Payload().(*FilePayload); ok {
			if p.File == nil {
				return nil, fmt.Errorf("the file %q is closed", p.Path)
			}
			return p, nil
		}
	}
	return nil, fmt.Errorf("argument %d must be a file", index)
}

func externalHasher(args []Value, index int) (*Hasher, error) {
	v, err := externalArg(args, index)
	if err != nil {
		return nil, err
	}
	if v.IsObject() {
		if p, ok := ObjectFromValue(v).Payload().(*HasherPayload); ok {
			return p.Hasher, nil
		}
	}
	return nil, fmt.Errorf("argument %d must be a hasher", index)
}

func externalProcess(args []Value, index int) (*Process, error) {
	v, err := externalArg(args, index)
	if err != nil {
		return nil, err
	}
	if v.IsObject() {
		if p, ok := ObjectFromValue(v).Payload().(*ProcessPayload); ok {
			return p.Process, nil
		}
	}
	return nil, fmt.Errorf("argument %d must be a process", index)
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

func registerBuiltins(r *ExternalRegistry) {
	r.Register("time.monotonic", timeMonotonic)
	r.Register("time.real", timeReal)

	r.Register("env.get", envGet)
	r.Register("env.set", envSet)
	r.Register("env.variables", envVariables)
	r.Register("env.arguments", envArguments)
	r.Register("env.working_directory", envWorkingDirectory)

	r.Register("stdin.read", stdinRead)

	r.Register("file.open", fileOpen)
	r.Register("file.read", fileRead)
	r.Register("file.write", fileWrite)
	r.Register("file.flush", fileFlush)
	r.Register("file.close", fileClose)
	r.Register("file.seek", fileSeek)
	r.Register("file.size", fileSize)
	r.Register("file.remove", fileRemove)

	r.Register("hasher.new", hasherNew)
	r.Register("hasher.write", hasherWrite)
	r.Register("hasher.finish", hasherFinish)

	r.Register("random.integer", randomInteger)
	r.Register("random.float", randomFloat)
	r.Register("random.bytes", randomBytes)

	r.Register("process.stacktrace", processStacktrace)
	r.Register("process.status", processStatus)
	r.Register("vm.process_count", vmProcessCount)

	registerSocketBuiltins(r)
}

func timeMonotonic(ctx *ExternalContext, args []Value) (Value, error) {
	return FromFloat64(time.Since(ctx.Machine.StartTime()).Seconds()), nil
}

func timeReal(ctx *ExternalContext, args []Value) (Value, error) {
	now := time.Now()
	return FromFloat64(float64(now.UnixNano()) / float64(time.Second)), nil
}

func envGet(ctx *ExternalContext, args []Value) (Value, error) {
	name, err := externalString(args, 0)
	if err != nil {
		return Undefined, err
	}
	value, ok := os.LookupEnv(name)
	if !ok {
		return Nil, nil
	}
	return ctx.String(value), nil
}

func envSet(ctx *ExternalContext, args []Value) (Value, error) {
	name, err := externalString(args, 0)
	if err != nil {
		return Undefined, err
	}
	value, err := externalString(args, 1)
	if err != nil {
		return Undefined, err
	}
	if err := os.Setenv(name, value); err != nil {
		return Undefined, err
	}
	return Nil, nil
}

func envVariables(ctx *ExternalContext, args []Value) (Value, error) {
	env := os.Environ()
	values := make([]Value, 0, len(env))
	for _, pair := range env {
		for i := 0; i < len(pair); i++ {
			if pair[i] == '=' {
				values = append(values, ctx.String(pair[:i]))
				break
			}
		}
	}
	return ctx.Array(values), nil
}

func envArguments(ctx *ExternalContext, args []Value) (Value, error) {
	arguments := ctx.Machine.Arguments
	values := make([]Value, len(arguments))
	for i, arg := range arguments {
		values[i] = ctx.String(arg)
	}
	return ctx.Array(values), nil
}

func envWorkingDirectory(ctx *ExternalContext, args []Value) (Value, error) {
	dir, err := os.Getwd()
	if err != nil {
		return Undefined, err
	}
	return ctx.String(dir), nil
}

// stdinRead blocks; programs switch to the blocking pool before calling
// it.
func stdinRead(ctx *ExternalContext, args []Value) (Value, error) {
	size, err := externalInt(args, 0)
	if err != nil {
		return Undefined, err
	}
	if size <= 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return Undefined, err
		}
		return ctx.Bytes(data), nil
	}
	buf := make([]byte, size)
	n, err := os.Stdin.Read(buf)
	if err != nil && err != io.EOF {
		return Undefined, err
	}
	return ctx.Bytes(buf[:n]), nil
}

// File open modes, part of the external function contract.
const (
	fileModeRead = iota
	fileModeWrite
	fileModeAppend
	fileModeReadWrite
	fileModeReadAppend
)

func fileOpen(ctx *ExternalContext, args []Value) (Value, error) {
	path, err := externalString(args, 0)
	if err != nil {
		return Undefined, err
	}
	mode, err := externalInt(args, 1)
	if err != nil {
		return Undefined, err
	}

	var flags int
	switch mode {
	case fileModeRead:
		flags = os.O_RDONLY
	case fileModeWrite:
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case fileModeAppend:
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case fileModeReadWrite:
		flags = os.O_RDWR | os.O_CREATE
	case fileModeReadAppend:
		flags = os.O_RDWR | os.O_CREATE | os.O_APPEND
	default:
		return Undefined, fmt.Errorf("invalid file mode %d", mode)
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return Undefined, unwrapErrno(err)
	}
	return ctx.Process.Heap().AllocateValue(ctx.Machine.Classes.File,
		&FilePayload{File: file, Path: path, Mode: int(mode)}), nil
}

func fileRead(ctx *ExternalContext, args []Value) (Value, error) {
	file, err := externalFile(args, 0)
	if err != nil {
		return Undefined, err
	}
	size, err := externalInt(args, 1)
	if err != nil {
		return Undefined, err
	}
	if size <= 0 {
		data, err := io.ReadAll(file.File)
		if err != nil {
			return Undefined, unwrapErrno(err)
		}
		return ctx.Bytes(data), nil
	}
	buf := make([]byte, size)
	n, err := file.File.Read(buf)
	if err != nil && err != io.EOF {
		return Undefined, unwrapErrno(err)
	}
	return ctx.Bytes(buf[:n]), nil
}

func fileWrite(ctx *ExternalContext, args []Value) (Value, error) {
	file, err := externalFile(args, 0)
	if err != nil {
		return Undefined, err
	}
	data, err := externalBytes(args, 1)
	if err != nil {
		return Undefined, err
	}
	n, err := file.File.Write(data)
	if err != nil {
		return Undefined, unwrapErrno(err)
	}
	return ctx.Int(int64(n)), nil
}

func fileFlush(ctx *ExternalContext, args []Value) (Value, error) {
	file, err := externalFile(args, 0)
	if err != nil {
		return Undefined, err
	}
	if err := file.File.Sync(); err != nil {
		return Undefined, unwrapErrno(err)
	}
	return Nil, nil
}

func fileClose(ctx *ExternalContext, args []Value) (Value, error) {
	v, err := externalArg(args, 0)
	if err != nil {
		return Undefined, err
	}
	if v.IsObject() {
		if p, ok := ObjectFromValue(v).Payload().(*FilePayload); ok {
			// Closing twice is fine.
			if err := p.Finalize(); err != nil {
				return Undefined, unwrapErrno(err)
			}
			return Nil, nil
		}
	}
	return Undefined, fmt.Errorf("argument 0 must be a file")
}

func fileSeek(ctx *ExternalContext, args []Value) (Value, error) {
	file, err := externalFile(args, 0)
	if err != nil {
		return Undefined, err
	}
	offset, err := externalInt(args, 1)
	if err != nil {
		return Undefined, err
	}
	pos, err := file.File.Seek(offset, io.SeekStart)
	if err != nil {
		return Undefined, unwrapErrno(err)
	}
	return ctx.Int(pos), nil
}

func fileSize(ctx *ExternalContext, args []Value) (Value, error) {
	path, err := externalString(args, 0)
	if err != nil {
		return Undefined, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Undefined, unwrapErrno(err)
	}
	return ctx.Int(info.Size()), nil
}

func fileRemove(ctx *ExternalContext, args []Value) (Value, error) {
	path, err := externalString(args, 0)
	if err != nil {
		return Undefined, err
	}
	if err := os.Remove(path); err != nil {
		return Undefined, unwrapErrno(err)
	}
	return Nil, nil
}

func hasherNew(ctx *ExternalContext, args []Value) (Value, error) {
	return ctx.Process.Heap().AllocateValue(ctx.Machine.Classes.Hasher,
		&HasherPayload{Hasher: NewHasher()}), nil
}

func hasherWrite(ctx *ExternalContext, args []Value) (Value, error) {
	hasher, err := externalHasher(args, 0)
	if err != nil {
		return Undefined, err
	}
	v, err := externalArg(args, 1)
	if err != nil {
		return Undefined, err
	}
	switch {
	case v.IsSmallInt():
		hasher.WriteInt(v.SmallInt())
	case v.IsFloat():
		hasher.WriteFloat(v.Float64())
	case v == True, v == False:
		hasher.WriteBool(v == True)
	case v == Nil, v == Undefined:
		hasher.WriteNil()
	case v.IsObject():
		switch p := ObjectFromValue(v).Payload().(type) {
		case *StringPayload:
			hasher.WriteString(p.Value)
		case *ByteArrayPayload:
			hasher.WriteBytes(p.Bytes)
		case *BigIntPayload:
			hasher.WriteBytes(p.Int.Bytes())
		default:
			hasher.WriteObjectIdentity(ObjectFromValue(v))
		}
	default:
		hasher.WriteNil()
	}
	return Nil, nil
}

func hasherFinish(ctx *ExternalContext, args []Value) (Value, error) {
	hasher, err := externalHasher(args, 0)
	if err != nil {
		return Undefined, err
	}
	result := hasher.Finish()
	hasher.Reset()
	return ctx.Int(result), nil
}

func randomInteger(ctx *ExternalContext, args []Value) (Value, error) {
	return FromSmallInt(rand.Int64N(MaxSmallInt)), nil
}

func randomFloat(ctx *ExternalContext, args []Value) (Value, error) {
	return FromFloat64(rand.Float64()), nil
}

func randomBytes(ctx *ExternalContext, args []Value) (Value, error) {
	size, err := externalInt(args, 0)
	if err != nil {
		return Undefined, err
	}
	if size < 0 {
		return Undefined, fmt.Errorf("the byte count must be non-negative")
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(rand.Uint32())
	}
	return ctx.Bytes(buf), nil
}

func processStacktrace(ctx *ExternalContext, args []Value) (Value, error) {
	entries := Stacktrace(ctx.Process)
	values := make([]Value, len(entries))
	for i, e := range entries {
		values[i] = ctx.Array([]Value{
			ctx.String(e.Name),
			ctx.String(e.File),
			FromSmallInt(int64(e.Line)),
		})
	}
	return ctx.Array(values), nil
}

func processStatus(ctx *ExternalContext, args []Value) (Value, error) {
	target := ctx.Process
	if len(args) > 0 {
		p, err := externalProcess(args, 0)
		if err != nil {
			return Undefined, err
		}
		target = p
	}
	return ctx.Machine.PermanentSpace.InternString(
		ctx.Machine.Classes.String, target.Status().String()), nil
}

func vmProcessCount(ctx *ExternalContext, args []Value) (Value, error) {
	return ctx.Int(int64(ctx.Machine.ProcessTable.Count())), nil
}
