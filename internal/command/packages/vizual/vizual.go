// Package vizual implements the dataset-editing commands of the vizual
// package. Each command is deterministic given its arguments and the
// visible dataset map; argument shapes are declared in the registered
// Spec and checked before a module is created.
package vizual

import (
	"context"
	"fmt"

	"github.com/vizier-run/vizier/internal/command"
	"github.com/vizier-run/vizier/internal/datastore"
)

const PackageID = "vizual"

const (
	LoadDataset   = "load_dataset"
	UpdateCell    = "update_cell"
	ProjectColumn = "project_column"
	SortDataset   = "sort_dataset"
	DeleteDataset = "delete_dataset"
)

// Register installs every vizual command into reg, backed by store.
func Register(reg *command.Registry, store datastore.Store) {
	reg.Register(command.Spec{
		PackageID: PackageID, CommandID: LoadDataset, Deterministic: true,
		Parameters: []command.Parameter{
			{Name: "name", Kind: command.KindScalar, Required: true},
			{Name: "file", Kind: command.KindFileRef, Required: true},
		},
	}, loadDatasetHandler(store))

	reg.Register(command.Spec{
		PackageID: PackageID, CommandID: UpdateCell, Deterministic: true,
		Parameters: []command.Parameter{
			{Name: "dataset", Kind: command.KindScalar, Required: true},
			{Name: "cell", Kind: command.KindRowRef, Required: true},
			{Name: "value", Kind: command.KindScalar, Required: true},
		},
	}, updateCellHandler(store))

	reg.Register(command.Spec{
		PackageID: PackageID, CommandID: ProjectColumn, Deterministic: true,
		Parameters: []command.Parameter{
			{Name: "dataset", Kind: command.KindScalar, Required: true},
			{Name: "column", Kind: command.KindColumnRef, Required: true},
		},
	}, projectColumnHandler(store))

	reg.Register(command.Spec{
		PackageID: PackageID, CommandID: SortDataset, Deterministic: true,
		Parameters: []command.Parameter{
			{Name: "dataset", Kind: command.KindScalar, Required: true},
			{Name: "column", Kind: command.KindColumnRef, Required: true},
		},
	}, sortDatasetHandler(store))

	reg.Register(command.Spec{
		PackageID: PackageID, CommandID: DeleteDataset, Deterministic: true,
		Parameters: []command.Parameter{
			{Name: "dataset", Kind: command.KindScalar, Required: true},
		},
	}, deleteDatasetHandler())
}

func scalarString(args []command.Argument, name string) (string, bool) {
	for _, a := range args {
		if a.Name == name && a.Kind == command.KindScalar {
			s, ok := a.Scalar.(string)
			return s, ok
		}
	}
	return "", false
}

func loadDatasetHandler(store datastore.Store) command.Handler {
	return func(ctx context.Context, _ command.DatasetView, args []command.Argument) (command.Output, error) {
		name, ok := scalarString(args, "name")
		if !ok {
			return command.Output{}, fmt.Errorf("vizual.load_dataset: missing name")
		}
		var file *command.FileRef
		for _, a := range args {
			if a.Name == "file" {
				file = a.FileRef
			}
		}
		if file == nil {
			return command.Output{}, fmt.Errorf("vizual.load_dataset: missing file")
		}

		// The reference loader does not parse CSV payloads; it treats the
		// file reference itself as a single-column dataset seed so the
		// provenance/reuse machinery has something concrete to operate on.
		header := []string{"value"}
		ref := file.URL
		if ref == "" {
			ref = file.Path
		}
		rows := [][]string{{ref}}
		id, err := store.Put(ctx, header, rows, nil)
		if err != nil {
			return command.Output{}, fmt.Errorf("vizual.load_dataset: %w", err)
		}
		return command.Output{
			Stdout: []string{fmt.Sprintf("loaded dataset %q from %s", name, ref)},
			Write: map[string]command.DatasetDescriptor{
				name: {ID: id, Name: name},
			},
		}, nil
	}
}

func updateCellHandler(store datastore.Store) command.Handler {
	return func(ctx context.Context, view command.DatasetView, args []command.Argument) (command.Output, error) {
		dsName, _ := scalarString(args, "dataset")
		var cell *command.RowRef
		var value any
		for _, a := range args {
			switch a.Name {
			case "cell":
				cell = a.RowRef
			case "value":
				value = a.Scalar
			}
		}
		if dsName == "" || cell == nil {
			return command.Output{}, fmt.Errorf("vizual.update_cell: missing dataset or cell")
		}
		id, ok := view[dsName]
		if !ok {
			return command.Output{}, fmt.Errorf("vizual.update_cell: dataset %q not visible", dsName)
		}
		ds, err := store.Get(ctx, id)
		if err != nil {
			return command.Output{}, fmt.Errorf("vizual.update_cell: %w", err)
		}
		row, err := rowIndex(cell.Row, len(ds.Rows))
		if err != nil {
			return command.Output{}, err
		}
		col := columnIndex(ds.Header, cell.Column)
		if col < 0 {
			return command.Output{}, fmt.Errorf("vizual.update_cell: column %q not found in dataset %q", cell.Column, dsName)
		}

		newRows := cloneRows(ds.Rows)
		newRows[row][col] = fmt.Sprint(value)
		newID, err := store.Put(ctx, ds.Header, newRows, ds.Annots)
		if err != nil {
			return command.Output{}, fmt.Errorf("vizual.update_cell: %w", err)
		}
		return command.Output{
			Stdout: []string{fmt.Sprintf("updated %s[%s] in %q", cell.Column, cell.Row, dsName)},
			Write: map[string]command.DatasetDescriptor{
				dsName: {ID: newID, Name: dsName},
			},
		}, nil
	}
}

func projectColumnHandler(store datastore.Store) command.Handler {
	return func(ctx context.Context, view command.DatasetView, args []command.Argument) (command.Output, error) {
		dsName, _ := scalarString(args, "dataset")
		var col *command.ColumnRef
		for _, a := range args {
			if a.Name == "column" {
				col = a.ColumnRef
			}
		}
		if dsName == "" || col == nil {
			return command.Output{}, fmt.Errorf("vizual.project_column: missing dataset or column")
		}
		id, ok := view[dsName]
		if !ok {
			return command.Output{}, fmt.Errorf("vizual.project_column: dataset %q not visible", dsName)
		}
		ds, err := store.Get(ctx, id)
		if err != nil {
			return command.Output{}, fmt.Errorf("vizual.project_column: %w", err)
		}
		idx := columnIndex(ds.Header, col.Column)
		if idx < 0 {
			return command.Output{}, fmt.Errorf("vizual.project_column: column %q not found", col.Column)
		}
		newHeader := append(append([]string{}, ds.Header[:idx]...), ds.Header[idx+1:]...)
		newRows := make([][]string, len(ds.Rows))
		for i, r := range ds.Rows {
			newRows[i] = append(append([]string{}, r[:idx]...), r[idx+1:]...)
		}
		newID, err := store.Put(ctx, newHeader, newRows, ds.Annots)
		if err != nil {
			return command.Output{}, fmt.Errorf("vizual.project_column: %w", err)
		}
		return command.Output{
			Stdout: []string{fmt.Sprintf("dropped column %q from %q", col.Column, dsName)},
			Write: map[string]command.DatasetDescriptor{
				dsName: {ID: newID, Name: dsName},
			},
		}, nil
	}
}

func sortDatasetHandler(store datastore.Store) command.Handler {
	return func(ctx context.Context, view command.DatasetView, args []command.Argument) (command.Output, error) {
		dsName, _ := scalarString(args, "dataset")
		var col *command.ColumnRef
		for _, a := range args {
			if a.Name == "column" {
				col = a.ColumnRef
			}
		}
		if dsName == "" || col == nil {
			return command.Output{}, fmt.Errorf("vizual.sort_dataset: missing dataset or column")
		}
		id, ok := view[dsName]
		if !ok {
			return command.Output{}, fmt.Errorf("vizual.sort_dataset: dataset %q not visible", dsName)
		}
		ds, err := store.Get(ctx, id)
		if err != nil {
			return command.Output{}, fmt.Errorf("vizual.sort_dataset: %w", err)
		}
		idx := columnIndex(ds.Header, col.Column)
		if idx < 0 {
			return command.Output{}, fmt.Errorf("vizual.sort_dataset: column %q not found", col.Column)
		}
		newRows := cloneRows(ds.Rows)
		sortRowsByColumn(newRows, idx)
		newID, err := store.Put(ctx, ds.Header, newRows, ds.Annots)
		if err != nil {
			return command.Output{}, fmt.Errorf("vizual.sort_dataset: %w", err)
		}
		return command.Output{
			Stdout: []string{fmt.Sprintf("sorted %q by %q", dsName, col.Column)},
			Write: map[string]command.DatasetDescriptor{
				dsName: {ID: newID, Name: dsName},
			},
		}, nil
	}
}

func deleteDatasetHandler() command.Handler {
	return func(_ context.Context, _ command.DatasetView, args []command.Argument) (command.Output, error) {
		dsName, _ := scalarString(args, "dataset")
		if dsName == "" {
			return command.Output{}, fmt.Errorf("vizual.delete_dataset: missing dataset")
		}
		return command.Output{
			Stdout: []string{fmt.Sprintf("deleted %q", dsName)},
			Delete: []string{dsName},
		}, nil
	}
}

func rowIndex(rowKey string, n int) (int, error) {
	var i int
	if _, err := fmt.Sscanf(rowKey, "%d", &i); err != nil {
		return 0, fmt.Errorf("vizual: row key %q is not a numeric index: %w", rowKey, err)
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("vizual: row index %d out of range [0,%d)", i, n)
	}
	return i, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func cloneRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string{}, r...)
	}
	return out
}

func sortRowsByColumn(rows [][]string, col int) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j-1][col] > rows[j][col]; j-- {
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}
