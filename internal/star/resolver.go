package star

import "time"

// ResolvedKeys holds the four surrogate keys a fact row references.
type ResolvedKeys struct {
	Tiempo   int64
	Cliente  int64
	Vendedor int64
	Producto int64
}

// KeyResolver delegates to the four dimension builders and guarantees
// all-or-nothing resolution: a record either yields all four keys or is
// rejected whole.
type KeyResolver struct {
	Time        DimensionBuilder
	Customer    DimensionBuilder
	Salesperson DimensionBuilder
	Product     DimensionBuilder
}

// NewKeyResolver wires a resolver over freshly constructed builders sharing
// one conflict policy and load clock.
func NewKeyResolver(policy ConflictPolicy, zones ZoneIndex, now time.Time) *KeyResolver {
	return &KeyResolver{
		Time:        NewTimeBuilder(policy),
		Customer:    NewCustomerBuilder(policy, zones, now),
		Salesperson: NewSalespersonBuilder(policy, now),
		Product:     NewProductBuilder(policy),
	}
}

// Builders returns the four builders in dimension load order (time first).
func (kr *KeyResolver) Builders() []DimensionBuilder {
	return []DimensionBuilder{kr.Time, kr.Customer, kr.Salesperson, kr.Product}
}

// Register derives and conflict-checks all four dimension rows and, only
// if every one passes, commits them. Used during pass 1 so a malformed or
// conflicting record never registers a partial set of rows.
func (kr *KeyResolver) Register(rec Record) (ResolvedKeys, error) {
	builders := kr.Builders()

	derived := make([]Derived, len(builders))
	for i, b := range builders {
		d, err := b.Derive(rec)
		if err != nil {
			return ResolvedKeys{}, err
		}
		derived[i] = d
	}
	for i, b := range builders {
		if err := b.Check(rec.Line, derived[i]); err != nil {
			return ResolvedKeys{}, err
		}
	}

	var keys [4]int64
	for i, b := range builders {
		id, err := b.Commit(rec.Line, derived[i])
		if err != nil {
			return ResolvedKeys{}, err
		}
		keys[i] = id
	}
	return ResolvedKeys{Tiempo: keys[0], Cliente: keys[1], Vendedor: keys[2], Producto: keys[3]}, nil
}

// Resolve produces the four keys for an already-registered record without
// mutating builder state. Used during pass 2.
func (kr *KeyResolver) Resolve(rec Record) (ResolvedKeys, error) {
	var out ResolvedKeys
	var err error

	if out.Tiempo, err = kr.Time.Lookup(rec); err != nil {
		return ResolvedKeys{}, err
	}
	if out.Cliente, err = kr.Customer.Lookup(rec); err != nil {
		return ResolvedKeys{}, err
	}
	if out.Vendedor, err = kr.Salesperson.Lookup(rec); err != nil {
		return ResolvedKeys{}, err
	}
	if out.Producto, err = kr.Product.Lookup(rec); err != nil {
		return ResolvedKeys{}, err
	}
	return out, nil
}
