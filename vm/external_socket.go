package vm

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// Socket external functions
// ---------------------------------------------------------------------------
//
// Sockets are raw non-blocking file descriptors. Operations that cannot
// make progress return *WouldBlock so the interpreter parks the process
// in the reactor and retries the call when the descriptor is ready.

func registerSocketBuiltins(r *ExternalRegistry) {
	r.Register("socket.create", socketCreate)
	r.Register("socket.connect", socketConnect)
	r.Register("socket.bind", socketBind)
	r.Register("socket.listen", socketListen)
	r.Register("socket.accept", socketAccept)
	r.Register("socket.read", socketRead)
	r.Register("socket.write", socketWrite)
	r.Register("socket.close", socketClose)
	r.Register("socket.local_address", socketLocalAddress)
}

// Socket domains and types, part of the external function contract.
const (
	socketDomainIPv4 = iota
	socketDomainIPv6
	socketDomainUnix
)

const (
	socketTypeStream = iota
	socketTypeDatagram
)

func externalSocket(args []Value, index int) (*SocketPayload, error) {
	v, err := externalArg(args, index)
	if err != nil {
		return nil, err
	}
	if v.IsObject() {
		if p, ok := ObjectFromValue(v).Payload().(*SocketPayload); ok {
			if p.FD < 0 {
				return nil, fmt.Errorf("the socket is closed")
			}
			return p, nil
		}
	}
	return nil, fmt.Errorf("argument %d must be a socket", index)
}

func socketAddr(domain int64, address string, port int64) (unix.Sockaddr, error) {
	switch domain {
	case socketDomainIPv4:
		ip := net.ParseIP(address).To4()
		if ip == nil {
			return nil, fmt.Errorf("%q is not an IPv4 address", address)
		}
		sa := &unix.SockaddrInet4{Port: int(port)}
		copy(sa.Addr[:], ip)
		return sa, nil
	case socketDomainIPv6:
		ip := net.ParseIP(address).To16()
		if ip == nil {
			return nil, fmt.Errorf("%q is not an IPv6 address", address)
		}
		sa := &unix.SockaddrInet6{Port: int(port)}
		copy(sa.Addr[:], ip)
		return sa, nil
	case socketDomainUnix:
		return &unix.SockaddrUnix{Name: address}, nil
	default:
		return nil, fmt.Errorf("invalid socket domain %d", domain)
	}
}

func socketCreate(ctx *ExternalContext, args []Value) (Value, error) {
	domain, err := externalInt(args, 0)
	if err != nil {
		return Undefined, err
	}
	kind, err := externalInt(args, 1)
	if err != nil {
		return Undefined, err
	}

	var family int
	switch domain {
	case socketDomainIPv4:
		family = unix.AF_INET
	case socketDomainIPv6:
		family = unix.AF_INET6
	case socketDomainUnix:
		family = unix.AF_UNIX
	default:
		return Undefined, fmt.Errorf("invalid socket domain %d", domain)
	}

	var typ int
	switch kind {
	case socketTypeStream:
		typ = unix.SOCK_STREAM
	case socketTypeDatagram:
		typ = unix.SOCK_DGRAM
	default:
		return Undefined, fmt.Errorf("invalid socket type %d", kind)
	}

	fd, err := unix.Socket(family, typ, 0)
	if err != nil {
		return Undefined, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = closeFD(fd)
		return Undefined, err
	}
	unix.CloseOnExec(fd)
	return ctx.Process.Heap().AllocateValue(ctx.Machine.Classes.Socket,
		&SocketPayload{FD: fd}), nil
}

// socketConnect starts a non-blocking connect. EINPROGRESS parks the
// process for writability; the retry observes EISCONN or EALREADY and
// reports accordingly.
func socketConnect(ctx *ExternalContext, args []Value) (Value, error) {
	sock, err := externalSocket(args, 0)
	if err != nil {
		return Undefined, err
	}
	domain, err := externalInt(args, 1)
	if err != nil {
		return Undefined, err
	}
	address, err := externalString(args, 2)
	if err != nil {
		return Undefined, err
	}
	port, err := externalInt(args, 3)
	if err != nil {
		return Undefined, err
	}

	sa, err := socketAddr(domain, address, port)
	if err != nil {
		return Undefined, err
	}

	switch err := unix.Connect(sock.FD, sa); err {
	case nil, unix.EISCONN:
		return Nil, nil
	case unix.EINPROGRESS, unix.EALREADY:
		return Undefined, &WouldBlock{FD: sock.FD, Interest: InterestWrite}
	default:
		return Undefined, err
	}
}

func socketBind(ctx *ExternalContext, args []Value) (Value, error) {
	sock, err := externalSocket(args, 0)
	if err != nil {
		return Undefined, err
	}
	domain, err := externalInt(args, 1)
	if err != nil {
		return Undefined, err
	}
	address, err := externalString(args, 2)
	if err != nil {
		return Undefined, err
	}
	port, err := externalInt(args, 3)
	if err != nil {
		return Undefined, err
	}

	sa, err := socketAddr(domain, address, port)
	if err != nil {
		return Undefined, err
	}
	if err := unix.SetsockoptInt(sock.FD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return Undefined, err
	}
	if err := unix.Bind(sock.FD, sa); err != nil {
		return Undefined, err
	}
	return Nil, nil
}

func socketListen(ctx *ExternalContext, args []Value) (Value, error) {
	sock, err := externalSocket(args, 0)
	if err != nil {
		return Undefined, err
	}
	backlog, err := externalInt(args, 1)
	if err != nil {
		return Undefined, err
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(sock.FD, int(backlog)); err != nil {
		return Undefined, err
	}
	return Nil, nil
}

func socketAccept(ctx *ExternalContext, args []Value) (Value, error) {
	sock, err := externalSocket(args, 0)
	if err != nil {
		return Undefined, err
	}
	fd, _, err := unix.Accept(sock.FD)
	switch err {
	case nil:
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = closeFD(fd)
			return Undefined, err
		}
		unix.CloseOnExec(fd)
		return ctx.Process.Heap().AllocateValue(ctx.Machine.Classes.Socket,
			&SocketPayload{FD: fd}), nil
	case unix.EAGAIN:
		return Undefined, &WouldBlock{FD: sock.FD, Interest: InterestRead}
	default:
		return Undefined, err
	}
}

func socketRead(ctx *ExternalContext, args []Value) (Value, error) {
	sock, err := externalSocket(args, 0)
	if err != nil {
		return Undefined, err
	}
	size, err := externalInt(args, 1)
	if err != nil {
		return Undefined, err
	}
	if size <= 0 {
		size = 8192
	}

	buf := make([]byte, size)
	n, err := unix.Read(sock.FD, buf)
	switch err {
	case nil:
		if n < 0 {
			n = 0
		}
		return ctx.Bytes(buf[:n]), nil
	case unix.EAGAIN:
		return Undefined, &WouldBlock{FD: sock.FD, Interest: InterestRead}
	default:
		return Undefined, err
	}
}

func socketWrite(ctx *ExternalContext, args []Value) (Value, error) {
	sock, err := externalSocket(args, 0)
	if err != nil {
		return Undefined, err
	}
	data, err := externalBytes(args, 1)
	if err != nil {
		return Undefined, err
	}

	n, err := unix.Write(sock.FD, data)
	switch err {
	case nil:
		return ctx.Int(int64(n)), nil
	case unix.EAGAIN:
		return Undefined, &WouldBlock{FD: sock.FD, Interest: InterestWrite}
	default:
		return Undefined, err
	}
}

func socketClose(ctx *ExternalContext, args []Value) (Value, error) {
	v, err := externalArg(args, 0)
	if err != nil {
		return Undefined, err
	}
	if v.IsObject() {
		if p, ok := ObjectFromValue(v).Payload().(*SocketPayload); ok {
			if p.FD >= 0 {
				ctx.Machine.Reactor.Deregister(p.FD)
			}
			if err := p.Finalize(); err != nil {
				return Undefined, err
			}
			return Nil, nil
		}
	}
	return Undefined, fmt.Errorf("argument 0 must be a socket")
}

func socketLocalAddress(ctx *ExternalContext, args []Value) (Value, error) {
	sock, err := externalSocket(args, 0)
	if err != nil {
		return Undefined, err
	}
	sa, err := unix.Getsockname(sock.FD)
	if err != nil {
		return Undefined, err
	}
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return ctx.Array([]Value{
			ctx.String(net.IP(addr.Addr[:]).String()),
			FromSmallInt(int64(addr.Port)),
		}), nil
	case *unix.SockaddrInet6:
		return ctx.Array([]Value{
			ctx.String(net.IP(addr.Addr[:]).String()),
			FromSmallInt(int64(addr.Port)),
		}), nil
	case *unix.SockaddrUnix:
		return ctx.Array([]Value{ctx.String(addr.Name), FromSmallInt(0)}), nil
	default:
		return Undefined, fmt.Errorf("unsupported address family")
	}
}
