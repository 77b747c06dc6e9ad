// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package firewall

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
)

const (
	controllersProperty = "access-controllers"
	namesProperty       = "access-controller-names"
	cellsProperty       = "#access-controller-cells"
	altConfPrefix       = "access-controllers-conf-"

	// consumer devices shared with the Normal World, only checked on
	// secure platforms
	sharedProperty = "st,shared-device"
)

type provider struct {
	ctrl  Controller
	node  *dt.Node
	cells uint32
}

// Registry represents the set of firewall controllers registered as device
// tree providers.
type Registry struct {
	sync.Mutex

	tree      *dt.Tree
	providers map[uint32]*provider
	ordered   []*provider
}

// NewRegistry returns an empty registry for a device tree.
func NewRegistry(tree *dt.Tree) *Registry {
	return &Registry{
		tree:      tree,
		providers: make(map[uint32]*provider),
	}
}

// Register adds a controller as provider of the access-controllers entries
// referencing its node.
func (r *Registry) Register(node *dt.Node, ctrl Controller) error {
	r.Lock()
	defer r.Unlock()

	p := &provider{
		ctrl:  ctrl,
		node:  node,
		cells: dt.CellCount(node, cellsProperty, 0),
	}

	if ph, ok := dt.U32(node, "phandle"); ok {
		if _, dup := r.providers[ph]; dup {
			return fmt.Errorf("duplicate firewall provider %s", r.tree.Path(node))
		}

		r.providers[ph] = p
	}

	r.ordered = append(r.ordered, p)

	log.WithField("fw", ctrl.Name()).Debugf("registered firewall controller")

	return nil
}

// Controllers returns all registered controllers in registration order.
func (r *Registry) Controllers() (ctrls []Controller) {
	r.Lock()
	defer r.Unlock()

	for _, p := range r.ordered {
		ctrls = append(ctrls, p.ctrl)
	}

	return
}

// Controller returns a registered controller by name.
func (r *Registry) Controller(name string) (Controller, bool) {
	for _, ctrl := range r.Controllers() {
		if ctrl.Name() == name {
			return ctrl, true
		}
	}

	return nil, false
}

// Node returns the device tree node of a registered controller.
func (r *Registry) Node(ctrl Controller) (*dt.Node, bool) {
	r.Lock()
	defer r.Unlock()

	for _, p := range r.ordered {
		if p.ctrl == ctrl {
			return p.node, true
		}
	}

	return nil, false
}

// queries decodes a phandle list property, a missing property returns
// rif.ErrItemNotFound.
func (r *Registry) queries(n *dt.Node, prop string) (qs []*Query, err error) {
	cells, ok := dt.Cells(n, prop)

	if !ok {
		return nil, rif.ErrItemNotFound
	}

	r.Lock()
	defer r.Unlock()

	for i := 0; i < len(cells); {
		p, ok := r.providers[cells[i]]

		if !ok {
			return nil, fmt.Errorf("%s: no firewall provider for phandle %#x", r.tree.Path(n), cells[i])
		}

		i++

		if i+int(p.cells) > len(cells) {
			return nil, fmt.Errorf("%s: truncated %s", r.tree.Path(n), prop)
		}

		args := make([]uint32, p.cells)
		copy(args, cells[i:])
		i += int(p.cells)

		qs = append(qs, NewQuery(p.ctrl, args...))
	}

	return
}

// GetByIndex returns the query of the index-th access-controllers entry of a
// device node, rif.ErrItemNotFound is returned past the last entry.
func (r *Registry) GetByIndex(n *dt.Node, index int) (*Query, error) {
	qs, err := r.queries(n, controllersProperty)

	if err != nil {
		return nil, err
	}

	if index < 0 || index >= len(qs) {
		return nil, rif.ErrItemNotFound
	}

	return qs[index], nil
}

// GetByName returns the query of the access-controllers entry matching a
// name in access-controller-names.
func (r *Registry) GetByName(n *dt.Node, name string) (*Query, error) {
	names, ok := dt.Strings(n, namesProperty)

	if !ok {
		return nil, rif.ErrItemNotFound
	}

	for i, s := range names {
		if s == name {
			return r.GetByIndex(n, i)
		}
	}

	return nil, rif.ErrItemNotFound
}

// GetAlternateConf returns the queries of an access-controllers-conf-<name>
// property, an empty configuration returns rif.ErrBadParameters.
func (r *Registry) GetAlternateConf(n *dt.Node, name string) (*AltConf, error) {
	prop := altConfPrefix + name
	qs, err := r.queries(n, prop)

	switch {
	case errors.Is(err, rif.ErrItemNotFound):
		return nil, fmt.Errorf("%s: no firewall alternate configuration %s, %w", r.tree.Path(n), prop, rif.ErrBadParameters)
	case err != nil:
		return nil, err
	case len(qs) == 0:
		return nil, fmt.Errorf("%s: empty firewall alternate configuration %s, %w", r.tree.Path(n), prop, rif.ErrBadParameters)
	}

	return &AltConf{
		Name:    name,
		Queries: qs,
	}, nil
}

// ProbeBus acquires, for each enabled child of a firewall bus node, every
// access-controllers entry and returns the children which can be probed.
//
// Bus children are part of the mandatory boot configuration, any failure is
// returned as a rif.ConfigurationError. On insecure platforms children tagged
// as shared with the Normal World are probed without any check.
func (r *Registry) ProbeBus(bus *dt.Node, ctrl Controller, insecure bool) (probe []*dt.Node, err error) {
	l := log.WithField("fw", ctrl.Name())
	l.Debugf("populating firewall bus")

	for _, n := range bus.Children {
		if !dt.Enabled(n) {
			continue
		}

		if insecure && dt.Has(n, sharedProperty) {
			l.Warnf("%s: skipping firewall check", n.Name)
			probe = append(probe, n)
			continue
		}

		l.Debugf("acquiring firewall access for %s", n.Name)

		for i := 0; ; i++ {
			q, err := r.GetByIndex(n, i)

			if errors.Is(err, rif.ErrItemNotFound) {
				break
			} else if err != nil {
				return nil, rif.Configurationf("%s: error on node %s, %v", ctrl.Name(), n.Name, err)
			}

			if err = q.AcquireAccess(); err != nil {
				return nil, rif.Configurationf("%s: %s not accessible, %v", ctrl.Name(), n.Name, err)
			}
		}

		probe = append(probe, n)
	}

	return
}

// AcquireDevice acquires every access-controllers entry of an optional
// consumer device, the returned error is rif.ErrAccessDenied when the device
// must not be probed.
func (r *Registry) AcquireDevice(n *dt.Node, insecure bool) (err error) {
	if insecure && dt.Has(n, sharedProperty) {
		return
	}

	for i := 0; ; i++ {
		q, err := r.GetByIndex(n, i)

		if errors.Is(err, rif.ErrItemNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		if err = q.AcquireAccess(); err != nil {
			return fmt.Errorf("%s: %v, %w", n.Name, q, err)
		}
	}
}
