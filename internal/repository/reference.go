package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/xelth-com/arkikgo/internal/arkik"
	"github.com/xelth-com/arkikgo/internal/models"
)

// LoadReferenceSet reads the recipes, clients, sites, materials and active prices
// a plant's import is validated against
func (r *Repository) LoadReferenceSet(ctx context.Context, plantID string) (*arkik.ReferenceSet, error) {
	db := r.db.WithContext(ctx)

	var recipes []models.Recipe
	if err := db.Where("plant_id = ?", plantID).Find(&recipes).Error; err != nil {
		return nil, fmt.Errorf("load recipes: %w", err)
	}
	var clients []models.Client
	if err := db.Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("load clients: %w", err)
	}
	var sites []models.ConstructionSite
	if err := db.Where("is_active = ?", true).Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("load construction sites: %w", err)
	}
	var materials []models.Material
	if err := db.Where("plant_id = ? AND is_active = ?", plantID, true).Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("load materials: %w", err)
	}
	// Newest first so the first match per scope wins
	var prices []models.ProductPrice
	if err := db.Where("plant_id = ? AND is_active = ?", plantID, true).
		Order("effective_date DESC").Find(&prices).Error; err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}

	outRecipes := make([]arkik.Recipe, 0, len(recipes))
	for _, rc := range recipes {
		outRecipes = append(outRecipes, arkik.Recipe{ID: rc.ID, Code: rc.RecipeCode, ArkikCode: rc.ArkikLongCode, Description: rc.Description})
	}
	outClients := make([]arkik.Client, 0, len(clients))
	for _, c := range clients {
		outClients = append(outClients, arkik.Client{ID: c.ID, Code: c.ClientCode, Name: c.Name})
	}
	outSites := make([]arkik.Site, 0, len(sites))
	for _, s := range sites {
		outSites = append(outSites, arkik.Site{ID: s.ID, ClientID: s.ClientID, Name: s.Name})
	}
	outMaterials := make([]arkik.Material, 0, len(materials))
	for _, m := range materials {
		outMaterials = append(outMaterials, arkik.Material{ID: m.ID, Code: m.MaterialCode, Name: m.Name})
	}
	outPrices := make([]arkik.Price, 0, len(prices))
	for _, p := range prices {
		outPrices = append(outPrices, arkik.Price{
			RecipeID:      p.RecipeID,
			ClientID:      deref(p.ClientID),
			SiteID:        deref(p.SiteID),
			Amount:        p.BasePrice,
			QuoteID:       p.QuoteID,
			QuoteDetailID: p.QuoteDetailID,
		})
	}
	return arkik.NewReferenceSet(outRecipes, outClients, outSites, outMaterials, outPrices), nil
}

// OpenImportSession records an uploaded file
func (r *Repository) OpenImportSession(ctx context.Context, s models.ImportSession) error {
	s.Status = models.ImportSessionOpen
	if err := r.db.WithContext(ctx).Create(&s).Error; err != nil {
		return fmt.Errorf("open import session: %w", err)
	}
	return nil
}

// CloseImportSession stores the final status and summary of an import session
func (r *Repository) CloseImportSession(ctx context.Context, id string, status models.ImportSessionStatus, summary any) error {
	updates := map[string]any{"status": status}
	if summary != nil {
		raw, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("encode session summary: %w", err)
		}
		updates["summary"] = datatypes.JSON(raw)
	}
	if status == models.ImportSessionCommitted || status == models.ImportSessionPartial {
		updates["committed_at"] = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Model(&models.ImportSession{}).
		Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("close import session: %w", err)
	}
	return nil
}

// FindImportByFingerprint returns the last session that imported the same file, or nil
func (r *Repository) FindImportByFingerprint(ctx context.Context, plantID, fingerprint string) (*models.ImportSession, error) {
	var sessions []models.ImportSession
	if err := r.db.WithContext(ctx).
		Where("plant_id = ? AND fingerprint = ?", plantID, fingerprint).
		Order("created_at DESC").Limit(1).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("find import by fingerprint: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}
