package storage

// DimensionMeta describes how one dimension table is keyed. Backends use it
// to pick conflict targets; the load pipeline uses it to prewarm key caches.
type DimensionMeta struct {
	Table string

	// IDColumn holds the surrogate key.
	IDColumn string

	// KeyColumn holds the natural key the upsert conflicts on. For the
	// entity dimensions the surrogate is the stable source identifier, so
	// key and id coincide; the time dimension is keyed by calendar date.
	KeyColumn string

	// Columns is the full insert column list, in schema order.
	Columns []string
}

var dimensionMeta = map[string]DimensionMeta{
	TableClientes: {
		Table:     TableClientes,
		IDColumn:  "id_cliente",
		KeyColumn: "id_cliente",
		Columns:   []string{"id_cliente", "nombre", "ciudad", "provincia", "zona", "tipo_cliente", "rango_edad"},
	},
	TableVendedores: {
		Table:     TableVendedores,
		IDColumn:  "id_vendedor",
		KeyColumn: "id_vendedor",
		Columns:   []string{"id_vendedor", "nombre", "sexo", "antiguedad", "fecha_nacimiento", "zona"},
	},
	TableProductos: {
		Table:     TableProductos,
		IDColumn:  "product_id",
		KeyColumn: "product_id",
		Columns:   []string{"product_id", "detalle", "tipoEnvase", "litros", "tipoBebida"},
	},
	TableTiempo: {
		Table:     TableTiempo,
		IDColumn:  "id_tiempo",
		KeyColumn: "fecha",
		Columns:   []string{"id_tiempo", "fecha", "dia", "mes", "trimestre", "año"},
	},
}

// FactColumns is the fact insert column list; id_venta is generated by the
// store.
var FactColumns = []string{"id_tiempo", "id_cliente", "id_vendedor", "id_producto", "cantidad", "precio"}

// DimensionMetaFor returns the metadata for a dimension table.
func DimensionMetaFor(table string) (DimensionMeta, bool) {
	m, ok := dimensionMeta[table]
	return m, ok
}

// DimensionTables lists the dimension tables in load order.
func DimensionTables() []string {
	return []string{TableTiempo, TableClientes, TableVendedores, TableProductos}
}
