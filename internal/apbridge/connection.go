package apbridge

import (
	"fmt"

	"github.com/danmuck/greybus/internal/protocol"
	"go.uber.org/multierr"
)

// ConnectionCreate joins (intf1, cport1) and (intf2, cport2). Each
// interface's CreateConnection runs first; if the second one fails the
// first is undone and no route is installed. If either interface leaves
// the table while the callbacks run, both sides are undone and the call
// fails with ErrNoInterface. Creating an identical
// connection again is a no-op.
func (b *Bridge) ConnectionCreate(intf1 uint8, cport1 uint16, intf2 uint8, cport2 uint16) error {
	a := Endpoint{Intf: intf1, CPort: cport1}
	z := Endpoint{Intf: intf2, CPort: cport2}
	if a == z {
		return fmt.Errorf("%w: connection %s to itself", protocol.ErrInvalid, a)
	}

	b.mu.Lock()
	ia, okA := b.lookupLocked(a.Intf)
	iz, okZ := b.lookupLocked(z.Intf)
	switch {
	case !okA:
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoInterface, a.Intf)
	case !okZ:
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoInterface, z.Intf)
	}
	if peer, ok := b.routes[a]; ok && peer == z {
		b.mu.Unlock()
		return nil
	}
	if err := b.reserveLocked(a, z); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	err := b.prepare(ia, iz, a, z)

	b.mu.Lock()
	delete(b.pending, a)
	delete(b.pending, z)
	stale := err == nil && !b.ownsLocked(ia, iz)
	if err == nil && !stale {
		b.routes[a] = z
		b.routes[z] = a
		b.recordTablesLocked()
	}
	b.mu.Unlock()

	if stale {
		// An interface left the table while its callbacks ran; undo them so
		// no route can point at a slot that never prepared the connection.
		err = fmt.Errorf("%w: %s or %s removed during create", ErrNoInterface, a, z)
		if rbErr := b.release(ia, iz, a, z); rbErr != nil {
			err = multierr.Append(err, rbErr)
		}
	}

	if err != nil {
		b.log.Warn().Err(err).Stringer("a", a).Stringer("b", z).Msg("connection create failed")
		return err
	}
	b.log.Info().Stringer("a", a).Stringer("b", z).Msg("connection created")
	return nil
}

// ConnectionDestroy tears down the connection between the two endpoints.
// Destroying endpoints that are not connected to each other is a no-op.
// If the second DestroyConnection fails the first interface is
// re-prepared and the routes stay in place.
func (b *Bridge) ConnectionDestroy(intf1 uint8, cport1 uint16, intf2 uint8, cport2 uint16) error {
	a := Endpoint{Intf: intf1, CPort: cport1}
	z := Endpoint{Intf: intf2, CPort: cport2}

	b.mu.Lock()
	if peer, ok := b.routes[a]; !ok || peer != z {
		b.mu.Unlock()
		b.log.Debug().Stringer("a", a).Stringer("b", z).Msg("connection destroy on unconnected pair")
		return nil
	}
	if _, busy := b.pending[a]; busy {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEndpointBusy, a)
	}
	ia, _ := b.lookupLocked(a.Intf)
	iz, _ := b.lookupLocked(z.Intf)
	b.pending[a] = struct{}{}
	b.pending[z] = struct{}{}
	b.mu.Unlock()

	err := b.release(ia, iz, a, z)

	b.mu.Lock()
	delete(b.pending, a)
	delete(b.pending, z)
	if err == nil || !b.ownsLocked(ia, iz) {
		if peer, ok := b.routes[a]; ok && peer == z {
			delete(b.routes, a)
			delete(b.routes, z)
		}
		b.recordTablesLocked()
	}
	b.mu.Unlock()

	if err != nil {
		b.log.Warn().Err(err).Stringer("a", a).Stringer("b", z).Msg("connection destroy failed")
		return err
	}
	b.log.Info().Stringer("a", a).Stringer("b", z).Msg("connection destroyed")
	return nil
}

// ownsLocked reports whether ia and iz still hold their slots.
func (b *Bridge) ownsLocked(ia, iz *Interface) bool {
	cur, ok := b.lookupLocked(ia.ID)
	if !ok || cur != ia {
		return false
	}
	cur, ok = b.lookupLocked(iz.ID)
	return ok && cur == iz
}

func (b *Bridge) reserveLocked(a, z Endpoint) error {
	for _, e := range []Endpoint{a, z} {
		if _, busy := b.pending[e]; busy {
			return fmt.Errorf("%w: %s", ErrEndpointBusy, e)
		}
		if peer, ok := b.routes[e]; ok {
			return fmt.Errorf("%w: %s is joined to %s", ErrEndpointInUse, e, peer)
		}
	}
	if len(b.routes)/2 >= b.maxConns {
		return ErrConnectionsFull
	}
	b.pending[a] = struct{}{}
	b.pending[z] = struct{}{}
	return nil
}

func (b *Bridge) prepare(ia, iz *Interface, a, z Endpoint) error {
	if err := createOn(ia, a.CPort); err != nil {
		return fmt.Errorf("apbridge: create %s: %w", a, err)
	}
	if err := createOn(iz, z.CPort); err != nil {
		err = fmt.Errorf("apbridge: create %s: %w", z, err)
		if rbErr := destroyOn(ia, a.CPort); rbErr != nil {
			err = multierr.Append(err, fmt.Errorf("apbridge: rollback %s: %w", a, rbErr))
		}
		return err
	}
	return nil
}

func (b *Bridge) release(ia, iz *Interface, a, z Endpoint) error {
	if err := destroyOn(ia, a.CPort); err != nil {
		return fmt.Errorf("apbridge: destroy %s: %w", a, err)
	}
	if err := destroyOn(iz, z.CPort); err != nil {
		err = fmt.Errorf("apbridge: destroy %s: %w", z, err)
		if rbErr := createOn(ia, a.CPort); rbErr != nil {
			err = multierr.Append(err, fmt.Errorf("apbridge: rollback %s: %w", a, rbErr))
		}
		return err
	}
	return nil
}

func createOn(intf *Interface, cport uint16) error {
	if intf == nil || intf.CreateConnection == nil {
		return nil
	}
	return intf.CreateConnection(intf, cport)
}

func destroyOn(intf *Interface, cport uint16) error {
	if intf == nil || intf.DestroyConnection == nil {
		return nil
	}
	return intf.DestroyConnection(intf, cport)
}
