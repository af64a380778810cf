package autopilot

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kilianp07/trackpilot/core/model"
)

// allocation is a route locked for one locomotive.
type allocation struct {
	route       model.Route
	destination model.Block
	enterSensor string
	inSensor    string
}

// allocate locks the first eligible route leaving departureID, ordered by
// route id. A candidate is eligible when it is not locked, its destination is
// FREE, unclaimed and has both arrival sensors, and none of its element tiles
// belong to a locked route.
// ok is false when nothing is eligible, which is not an error.
func (ap *AutoPilot) allocate(locomotiveID, departureID string) (alloc allocation, ok bool, err error) {
	ap.layoutMu.Lock()
	alloc, ok, err = ap.lockRoute(locomotiveID, departureID)
	ap.layoutMu.Unlock()
	if err != nil {
		routeAllocations.WithLabelValues("error").Inc()
		return allocation{}, false, err
	}
	if !ok {
		routeAllocations.WithLabelValues("stalled").Inc()
		return allocation{}, false, nil
	}

	if err := ap.setRoute(alloc.route); err != nil {
		routeAllocations.WithLabelValues("error").Inc()
		if rerr := ap.release(locomotiveID, alloc.route.ID, alloc.destination.ID, ""); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return allocation{}, false, err
	}
	routeAllocations.WithLabelValues("locked").Inc()
	return alloc, true, nil
}

// lockRoute must be called with layoutMu held.
func (ap *AutoPilot) lockRoute(locomotiveID, departureID string) (allocation, bool, error) {
	routes, err := ap.store.Routes()
	if err != nil {
		return allocation{}, false, fmt.Errorf("list routes: %w", err)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })

	busy := map[string]bool{}
	for _, r := range routes {
		if !r.Locked {
			continue
		}
		for _, e := range r.Elements {
			busy[e.TileID] = true
		}
	}

	for _, r := range routes {
		if r.FromTileID != departureID || r.Locked || r.ToTileID == departureID {
			continue
		}
		if conflicts(r, busy) {
			continue
		}
		dest, err := ap.store.BlockByTileID(r.ToTileID)
		if err != nil {
			ap.log.Debugf("route %s: destination %s: %v", r.ID, r.ToTileID, err)
			continue
		}
		if dest.State != model.BlockFree || dest.Claimed() {
			continue
		}
		enter, in := dest.ArrivalSensors(r.ToSuffix)
		if enter == "" || in == "" {
			ap.log.Debugf("route %s: block %s lacks arrival sensors", r.ID, dest.ID)
			continue
		}

		r.Locked = true
		if err := ap.store.PersistRoute(r); err != nil {
			return allocation{}, false, fmt.Errorf("lock route %s: %w", r.ID, err)
		}
		dest.State = model.BlockLocked
		dest.LocomotiveID = locomotiveID
		dest.ArrivalSuffix = r.ToSuffix
		if err := ap.store.PersistBlock(dest); err != nil {
			r.Locked = false
			if rerr := ap.store.PersistRoute(r); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return allocation{}, false, fmt.Errorf("lock block %s: %w", dest.ID, err)
		}
		return allocation{route: r, destination: dest, enterSensor: enter, inSensor: in}, true, nil
	}
	return allocation{}, false, nil
}

func conflicts(r model.Route, busy map[string]bool) bool {
	for _, e := range r.Elements {
		if busy[e.TileID] {
			return true
		}
	}
	return false
}

// setRoute switches the route's accessories in element order.
func (ap *AutoPilot) setRoute(r model.Route) error {
	elems := append([]model.RouteElement(nil), r.Elements...)
	sort.SliceStable(elems, func(i, j int) bool { return elems[i].Order < elems[j].Order })
	for _, e := range elems {
		if err := ap.station.SwitchAccessory(e.Address, e.DecoderType, e.Value); err != nil {
			return fmt.Errorf("route %s: switch %s: %w", r.ID, e.TileID, err)
		}
	}
	return nil
}

// release undoes the claims of a locomotive: the route is unlocked, the
// destination returns to FREE if the locomotive still claims it, and an
// OUTBOUND departure block reverts to OCCUPIED. Empty ids are skipped.
func (ap *AutoPilot) release(locomotiveID, routeID, destinationID, departureID string) error {
	ap.layoutMu.Lock()
	defer ap.layoutMu.Unlock()
	var errs []error
	if routeID != "" {
		if r, err := ap.store.Route(routeID); err != nil {
			errs = append(errs, fmt.Errorf("route %s: %w", routeID, err))
		} else if r.Locked {
			r.Locked = false
			if err := ap.store.PersistRoute(r); err != nil {
				errs = append(errs, fmt.Errorf("unlock route %s: %w", routeID, err))
			}
		}
	}
	if destinationID != "" {
		if b, err := ap.store.BlockByTileID(destinationID); err != nil {
			errs = append(errs, fmt.Errorf("block %s: %w", destinationID, err))
		} else if b.LocomotiveID == locomotiveID && b.State != model.BlockOutOfOrder {
			b.State = model.BlockFree
			b.LocomotiveID = ""
			b.ArrivalSuffix = ""
			if err := ap.store.PersistBlock(b); err != nil {
				errs = append(errs, fmt.Errorf("free block %s: %w", destinationID, err))
			}
		}
	}
	if departureID != "" {
		if b, err := ap.store.BlockByTileID(departureID); err != nil {
			errs = append(errs, fmt.Errorf("block %s: %w", departureID, err))
		} else if b.State == model.BlockOutbound && b.LocomotiveID == locomotiveID {
			b.State = model.BlockOccupied
			if err := ap.store.PersistBlock(b); err != nil {
				errs = append(errs, fmt.Errorf("restore block %s: %w", departureID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// completeLeg moves the claim of the locomotive from departure to
// destination and unlocks the route.
func (ap *AutoPilot) completeLeg(locomotiveID, routeID, departureID, destinationID string) error {
	ap.layoutMu.Lock()
	defer ap.layoutMu.Unlock()
	dest, err := ap.store.BlockByTileID(destinationID)
	if err != nil {
		return fmt.Errorf("block %s: %w", destinationID, err)
	}
	dest.State = model.BlockOccupied
	dest.LocomotiveID = locomotiveID
	if err := ap.store.PersistBlock(dest); err != nil {
		return fmt.Errorf("occupy block %s: %w", destinationID, err)
	}
	dep, err := ap.store.BlockByTileID(departureID)
	if err != nil {
		return fmt.Errorf("block %s: %w", departureID, err)
	}
	if dep.LocomotiveID == locomotiveID {
		dep.State = model.BlockFree
		dep.LocomotiveID = ""
		dep.ArrivalSuffix = ""
		if err := ap.store.PersistBlock(dep); err != nil {
			return fmt.Errorf("free block %s: %w", departureID, err)
		}
	}
	r, err := ap.store.Route(routeID)
	if err != nil {
		return fmt.Errorf("route %s: %w", routeID, err)
	}
	r.Locked = false
	if err := ap.store.PersistRoute(r); err != nil {
		return fmt.Errorf("unlock route %s: %w", routeID, err)
	}
	return nil
}

// setBlockState updates the state of a block claimed by the locomotive.
func (ap *AutoPilot) setBlockState(blockID, locomotiveID string, state model.BlockState) error {
	ap.layoutMu.Lock()
	defer ap.layoutMu.Unlock()
	b, err := ap.store.BlockByTileID(blockID)
	if err != nil {
		return fmt.Errorf("block %s: %w", blockID, err)
	}
	if b.LocomotiveID != locomotiveID {
		return fmt.Errorf("block %s is claimed by %q, not %q", blockID, b.LocomotiveID, locomotiveID)
	}
	if b.State == state {
		return nil
	}
	b.State = state
	return ap.store.PersistBlock(b)
}
