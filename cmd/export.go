package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/dramline/caskwatch/internal/model"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the catalog mirror to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		records, err := st.ListRecords(ctx)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		if err := writeCatalogXLSX(exportOut, records); err != nil {
			return err
		}

		fmt.Printf("Wrote %d records to %s\n", len(records), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "catalog.xlsx", "output file path")
	rootCmd.AddCommand(exportCmd)
}

var exportHeader = []string{
	"Code", "Name", "Price", "Strength", "Age", "Cask type",
	"Distillery", "Region", "Available", "Recently added", "URL",
}

// writeCatalogXLSX writes all records to a single-sheet workbook.
func writeCatalogXLSX(path string, records []model.Record) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Catalog")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	row := sheet.AddRow()
	for _, h := range exportHeader {
		row.AddCell().Value = h
	}

	for _, rec := range records {
		row := sheet.AddRow()
		for _, v := range []string{
			rec.Code.String(),
			rec.Name,
			rec.Price,
			rec.Strength,
			rec.AgeText,
			rec.CaskType,
			rec.OriginName,
			rec.Region,
			strconv.FormatBool(rec.Available),
			strconv.FormatBool(rec.RecentlyAdded),
			rec.URL,
		} {
			row.AddCell().Value = v
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}
	return nil
}
