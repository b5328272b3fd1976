package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xelth-com/arkikgo/internal/apperr"
	"github.com/xelth-com/arkikgo/internal/arkik"
	"github.com/xelth-com/arkikgo/internal/arkikfile"
)

var validate = validator.New()

// maxJSONBody caps JSON request bodies
const maxJSONBody = 8 << 20

// decodeAndValidate reads a JSON body into dst and validates it
func decodeAndValidate(w http.ResponseWriter, req *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.BadRequest(fmt.Sprintf("invalid request body: %v", err)).Wrap(err)
	}
	return validate.Struct(dst)
}

// openRowsRequest stages rows parsed by the caller
type openRowsRequest struct {
	PlantID  string       `json:"plant_id"`
	FileName string       `json:"file_name"`
	Rows     []rowPayload `json:"rows" validate:"required,min=1,dive"`
}

type rowPayload struct {
	RowNumber          int                        `json:"row_number" validate:"gte=0"`
	Number             string                     `json:"remision" validate:"required"`
	PlantID            string                     `json:"plant_id"`
	OrderRef           string                     `json:"orden"`
	ClientCode         string                     `json:"cliente_codigo"`
	ClientName         string                     `json:"cliente_nombre"`
	RFC                string                     `json:"rfc"`
	SiteName           string                     `json:"obra"`
	DeliveryPoint      string                     `json:"punto_entrega"`
	Date               string                     `json:"fecha"`
	LoadTime           string                     `json:"hora_carga"`
	RecipeCode         string                     `json:"prod_tecnico"`
	CommercialCode     string                     `json:"prod_comercial"`
	ProductDescription string                     `json:"product_description"`
	Volume             string                     `json:"volumen"`
	Driver             string                     `json:"conductor"`
	Plate              string                     `json:"placas"`
	Truck              string                     `json:"camion"`
	Status             string                     `json:"estatus"`
	Pumpable           string                     `json:"bombeable"`
	Elements           string                     `json:"elementos"`
	InternalComments   string                     `json:"comentarios_internos"`
	ExternalComments   string                     `json:"comentarios_externos"`
	Materials          map[string]materialPayload `json:"materiales"`
}

type materialPayload struct {
	Theoretical decimal.Decimal `json:"teorica"`
	Real        decimal.Decimal `json:"real"`
	Rework      decimal.Decimal `json:"retrabajo"`
	Manual      decimal.Decimal `json:"manual"`
}

// toRawRows converts payload rows; an unreadable date stays zero and is flagged by validation
func (p openRowsRequest) toRawRows() []arkik.RawRow {
	rows := make([]arkik.RawRow, len(p.Rows))
	for i, r := range p.Rows {
		row := arkik.RawRow{
			RowNumber:          r.RowNumber,
			Number:             r.Number,
			PlantID:            r.PlantID,
			OrderRef:           r.OrderRef,
			ClientCode:         r.ClientCode,
			ClientName:         r.ClientName,
			RFC:                r.RFC,
			SiteName:           r.SiteName,
			DeliveryPoint:      r.DeliveryPoint,
			Date:               arkikfile.ParseDate(r.Date),
			LoadTime:           arkikfile.ParseDate(r.LoadTime),
			RecipeCode:         r.RecipeCode,
			CommercialCode:     r.CommercialCode,
			ProductDescription: r.ProductDescription,
			Volume:             r.Volume,
			Driver:             r.Driver,
			Plate:              r.Plate,
			Truck:              r.Truck,
			Status:             r.Status,
			Pumpable:           r.Pumpable,
			Elements:           r.Elements,
			InternalComments:   r.InternalComments,
			ExternalComments:   r.ExternalComments,
			Materials:          make(map[string]arkik.Measure, len(r.Materials)),
		}
		if row.RowNumber == 0 {
			row.RowNumber = i + 1
		}
		for code, m := range r.Materials {
			row.Materials[code] = arkik.Measure{Theoretical: m.Theoretical, Real: m.Real, Rework: m.Rework, Manual: m.Manual}
		}
		rows[i] = row
	}
	return rows
}

type strategyRequest struct {
	Strategy string `json:"strategy" validate:"required,oneof=skip update_materials_only update_all merge skip_new_only"`
	Note     string `json:"note"`
}

type assignmentRequest struct {
	Mode        string `json:"mode" validate:"required,oneof=existing new"`
	OrderID     string `json:"order_id" validate:"required_if=Mode existing"`
	OrderNumber string `json:"order_number"`
}

func (a assignmentRequest) toAssignment() arkik.OrderAssignment {
	if a.Mode == "new" {
		return arkik.CreateNewOrder{}
	}
	return arkik.AssignExisting{OrderID: a.OrderID, OrderNumber: a.OrderNumber}
}

type statusDecisionRequest struct {
	Action       string                     `json:"action" validate:"required,oneof=proceed_normal reassign_to_existing mark_as_waste"`
	TargetNumber string                     `json:"target_number" validate:"required_if=Action reassign_to_existing"`
	Materials    map[string]decimal.Decimal `json:"materials"`
	Reason       string                     `json:"reason" validate:"required_if=Action mark_as_waste"`
	Notes        string                     `json:"notes"`
}

func (d statusDecisionRequest) toDecision() arkik.StatusDecision {
	switch arkik.StatusAction(d.Action) {
	case arkik.ActionReassignToExisting:
		return arkik.ReassignToExisting{TargetNumber: d.TargetNumber, Materials: d.Materials}
	case arkik.ActionMarkAsWaste:
		return arkik.MarkAsWaste{Reason: d.Reason}
	}
	return arkik.ProceedNormal{}
}

type commitRequest struct {
	Unattended bool `json:"unattended"`
}
