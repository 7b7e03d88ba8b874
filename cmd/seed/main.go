// Package main seeds an account with demo raw materials, a received
// purchase and a recipe. Safe to run repeatedly for the same account.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"larder/internal/app"
	"larder/internal/config"
	"larder/internal/core/id"
	"larder/internal/domain/material"
	"larder/internal/domain/order"
	"larder/internal/domain/purchase"
	"larder/pkg/logger"
)

const demoSupplier = "Demo Wholesale"

type demoMaterial struct {
	name  string
	unit  string
	qty   string
	price string
}

var demoMaterials = []demoMaterial{
	{name: "Flour", unit: "kg", qty: "25", price: "1.20"},
	{name: "Sugar", unit: "kg", qty: "10", price: "1.80"},
	{name: "Milk", unit: "l", qty: "12", price: "0.95"},
	{name: "Eggs", unit: "pcs", qty: "60", price: "0.25"},
}

// demoProduct is fixed so reruns replace the same recipe.
var demoProduct = id.MustParse("0190c8a0-0000-7000-8000-00000000c0de")

func main() {
	log, err := logger.New(logger.Config{Level: "info", Development: true})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}

	owner := id.New()
	if raw := os.Getenv("SEED_ACCOUNT_ID"); raw != "" {
		if owner, err = id.Parse(raw); err != nil {
			log.Fatalw("invalid SEED_ACCOUNT_ID", "error", err)
		}
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize", "error", err)
	}
	defer a.Close()

	rows, err := seedMaterials(ctx, a, owner)
	if err != nil {
		log.Fatalw("failed to seed materials", "error", err)
	}
	if err := seedPurchase(ctx, a, owner, rows); err != nil {
		log.Fatalw("failed to seed purchase", "error", err)
	}
	if err := seedRecipe(ctx, a, owner, rows); err != nil {
		log.Fatalw("failed to seed recipe", "error", err)
	}

	log.Infow("seeding completed successfully", "account_id", owner, "product_id", demoProduct)
}

func seedMaterials(ctx context.Context, a *app.App, owner id.ID) (map[string]*material.RawMaterial, error) {
	rows := make(map[string]*material.RawMaterial, len(demoMaterials))
	for _, d := range demoMaterials {
		m := material.NewRawMaterial(owner, d.name, d.unit, decimal.RequireFromString(d.price), demoSupplier)
		stored, created, err := a.Materials.InsertIfAbsent(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", d.name, err)
		}
		if created {
			a.Log.Infow("raw material created", "name", d.name, "id", stored.ID)
		}
		rows[d.name] = stored
	}
	return rows, nil
}

// seedPurchase receives the demo quantities once per run.
func seedPurchase(ctx context.Context, a *app.App, owner id.ID, rows map[string]*material.RawMaterial) error {
	lines := make([]purchase.LineItem, 0, len(demoMaterials))
	for _, d := range demoMaterials {
		rid := rows[d.name].ID
		lines = append(lines, purchase.LineItem{
			RawMaterialID: &rid,
			Name:          d.name,
			Quantity:      decimal.RequireFromString(d.qty),
			Unit:          d.unit,
			UnitPrice:     decimal.RequireFromString(d.price),
		})
	}

	p := purchase.NewPurchase(owner, demoSupplier, lines)
	if err := a.Purchases.Create(ctx, p); err != nil {
		return err
	}
	result, err := a.Purchases.Transition(ctx, owner, p.ID, purchase.StatusCompleted)
	if err != nil {
		return err
	}
	if result.Warning != nil {
		a.Log.Warnw("purchase applied with warning", "warning", result.Warning)
	}
	a.Log.Infow("purchase received", "purchase_id", p.ID, "total", p.TotalValue)
	return nil
}

func seedRecipe(ctx context.Context, a *app.App, owner id.ID, rows map[string]*material.RawMaterial) error {
	rec := order.NewRecipe(owner, demoProduct, "Pancakes", []order.Ingredient{
		{RawMaterialID: rows["Flour"].ID, Quantity: decimal.RequireFromString("120"), Unit: "g"},
		{RawMaterialID: rows["Sugar"].ID, Quantity: decimal.RequireFromString("15"), Unit: "g"},
		{RawMaterialID: rows["Milk"].ID, Quantity: decimal.RequireFromString("250"), Unit: "ml"},
		{RawMaterialID: rows["Eggs"].ID, Quantity: decimal.NewFromInt(1)},
	})
	return a.Orders.SaveRecipe(ctx, rec)
}
