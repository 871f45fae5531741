package dao

import (
	"context"
	"fmt"

	"restlib/internal/descriptor"
	"restlib/internal/errs"

	"github.com/google/uuid"
)

// conjunto support: records tied to a company-group partition through the
// chain gruposempresariais -> empresas -> estabelecimentos ->
// estabelecimentosconjuntos. Reads join the record's conjunto relation
// against that chain; writes maintain the relation row alongside the record.

func conjuntoTable(c *descriptor.ConjuntoSpec) string {
	return "ns.conjuntos" + c.Name
}

func isUUID(value any) bool {
	switch v := value.(type) {
	case uuid.UUID:
		return true
	case string:
		_, err := uuid.Parse(v)
		return err == nil
	}
	return false
}

// conjuntoSQL builds the CTE, the join clauses and the projected group
// columns for a conjunto-scoped read. The group filter values are consumed
// from filters (removed from the map) and split by shape: UUIDs match the
// group PK, anything else the group code.
func conjuntoSQL(b *builder, c *descriptor.ConjuntoSpec, pkColumn, conjuntoColumn string, filters Filters) (with, join, fields string) {
	var codes, ids []any
	for _, f := range filters[conjuntoColumn] {
		if f.Value == nil {
			continue
		}
		if isUUID(f.Value) {
			ids = append(ids, f.Value)
		} else {
			codes = append(codes, f.Value)
		}
	}
	delete(filters, conjuntoColumn)

	groupCond := ""
	switch {
	case len(codes) > 0 && len(ids) > 0:
		groupCond = fmt.Sprintf("and (gemp0.codigo = any(%s) or gemp0.grupoempresarial = any(%s))",
			b.bindAs("conjunto_grupo_codigo", codes), b.bindAs("conjunto_grupo_id", ids))
	case len(codes) > 0:
		groupCond = fmt.Sprintf("and gemp0.codigo = any(%s)", b.bindAs("conjunto_grupo_codigo", codes))
	case len(ids) > 0:
		groupCond = fmt.Sprintf("and gemp0.grupoempresarial = any(%s)", b.bindAs("conjunto_grupo_id", ids))
	}

	cadastro := b.bindAs("conjunto_cadastro", c.Cadastro)

	with = fmt.Sprintf(`with grupos_conjuntos as (
  select
    gemp0.grupoempresarial as grupo_empresarial_pk,
    gemp0.codigo as grupo_empresarial_codigo,
    est_c0.conjunto
  from ns.gruposempresariais gemp0
  join ns.empresas emp0 on (emp0.grupoempresarial = gemp0.grupoempresarial %s)
  join ns.estabelecimentos est0 on (est0.empresa = emp0.empresa)
  join ns.estabelecimentosconjuntos est_c0 on (
    est_c0.estabelecimento = est0.estabelecimento
    and est_c0.cadastro = %s
  )
  group by gemp0.grupoempresarial, gemp0.codigo, est_c0.conjunto
)`, groupCond, cadastro)

	join = fmt.Sprintf(`
join %s as cr0 on (t0.%s = cr0.registro)
join grupos_conjuntos as gc0 on (gc0.conjunto = cr0.conjunto)`, conjuntoTable(c), pkColumn)

	fields = `gc0.grupo_empresarial_pk,
  gc0.grupo_empresarial_codigo,
  gc0.conjunto as conjunto,
  `

	return with, join, fields
}

// InsertConjuntoRelation resolves the conjunto matching the given group
// (by PK or by code) and links the record to it.
func (d *DAO) InsertConjuntoRelation(ctx context.Context, id any, groupValue any) error {
	c := d.spec.Conjunto
	if c == nil {
		return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: conjunto is not configured", d.spec.Name)}
	}

	b := newBuilder()
	groupCond := ""
	if isUUID(groupValue) {
		groupCond = fmt.Sprintf("and gemp0.grupoempresarial = %s", b.bindAs("conjunto_grupo_id", groupValue))
	} else {
		groupCond = fmt.Sprintf("and gemp0.codigo = %s", b.bindAs("conjunto_grupo_codigo", groupValue))
	}

	sql := fmt.Sprintf(`select
  gemp0.grupoempresarial as grupo_empresarial_pk,
  est_c0.conjunto
from ns.gruposempresariais gemp0
join ns.empresas emp0 on (emp0.grupoempresarial = gemp0.grupoempresarial %s)
join ns.estabelecimentos est0 on (est0.empresa = emp0.empresa)
join ns.estabelecimentosconjuntos est_c0 on (
  est_c0.estabelecimento = est0.estabelecimento
  and est_c0.cadastro = %s
)
group by gemp0.grupoempresarial, est_c0.conjunto`, groupCond, b.bindAs("conjunto_cadastro", c.Cadastro))

	rows, err := d.queryRows(ctx, sql, b.args)
	if err != nil {
		return err
	}
	if len(rows) > 1 {
		return fmt.Errorf("more than one conjunto of type %s found for group %v", c.Cadastro, groupValue)
	}
	if len(rows) < 1 {
		return fmt.Errorf("no conjunto of type %s found for group %v", c.Cadastro, groupValue)
	}

	ib := newBuilder()
	insert := fmt.Sprintf("insert into %s (conjunto, registro) values (%s, %s)",
		conjuntoTable(c), ib.bindAs("conjunto", rows[0]["conjunto"]), ib.bindAs("registro", id))
	_, err = d.q.Exec(ctx, insert, ib.args)
	return err
}

// DeleteConjuntoRelation removes the record's conjunto link.
func (d *DAO) DeleteConjuntoRelation(ctx context.Context, id any) error {
	c := d.spec.Conjunto
	if c == nil {
		return &errs.ConfigError{Detail: fmt.Sprintf("spec %s: conjunto is not configured", d.spec.Name)}
	}
	b := newBuilder()
	sql := fmt.Sprintf("delete from %s where registro = %s", conjuntoTable(c), b.bindAs("registro", id))
	_, err := d.q.Exec(ctx, sql, b.args)
	return err
}
