package remote

import (
	"encoding/json"
	"time"

	"github.com/wartungswerk/fieldsync/internal/record"
)

// Wire payloads for the upstream API, which speaks the German schema of the
// admin application.

type placePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type assetLinkPayload struct {
	ID              string            `json:"id"`
	AssetID         string            `json:"anlageId"`
	Visible         bool              `json:"sichtbar"`
	SearchMode      bool              `json:"suchmodus"`
	Notes           string            `json:"bemerkung"`
	Processed       bool              `json:"bearbeitet"`
	ProcessedAt     *time.Time        `json:"bearbeitetAm"`
	Name            string            `json:"name"`
	AssetNumber     string            `json:"anlagenNummer"`
	ReferenceCode   string            `json:"aksCode"`
	Status          string            `json:"status"`
	ConditionRating int               `json:"zustandsbewertung"`
	Description     string            `json:"beschreibung"`
	Attributes      map[string]string `json:"dynamischeFelder"`
}

type assignmentPayload struct {
	ID           string             `json:"id"`
	Title        string             `json:"titel"`
	Description  string             `json:"beschreibung"`
	Status       string             `json:"status"`
	StartsAt     *time.Time         `json:"beginn"`
	EndsAt       *time.Time         `json:"ende"`
	AssigneeName string             `json:"bearbeiter"`
	CreatorName  string             `json:"ersteller"`
	Locations    []placePayload     `json:"standorte"`
	Buildings    []placePayload     `json:"gebaeude"`
	AssetLinks   []assetLinkPayload `json:"anlagen"`
}

type referenceCodePayload struct {
	Code                string `json:"code"`
	Name                string `json:"name"`
	Description         string `json:"beschreibung"`
	Level               int    `json:"ebene"`
	ParentCode          string `json:"elternCode"`
	IsCategory          bool   `json:"kategorie"`
	MaintenanceInterval int    `json:"wartungsintervallMonate"`
}

var statusFromRemoteValues = map[string]record.AssignmentStatus{
	"vorbereitet":   record.AssignmentStatusPrepared,
	"inBearbeitung": record.AssignmentStatusInProgress,
	"abgeschlossen": record.AssignmentStatusCompleted,
	"pausiert":      record.AssignmentStatusPaused,
}

var statusToRemoteValues = map[record.AssignmentStatus]string{
	record.AssignmentStatusPrepared:   "vorbereitet",
	record.AssignmentStatusInProgress: "inBearbeitung",
	record.AssignmentStatusCompleted:  "abgeschlossen",
	record.AssignmentStatusPaused:     "pausiert",
}

func statusFromRemote(value string) record.AssignmentStatus {
	if status, ok := statusFromRemoteValues[value]; ok {
		return status
	}
	return record.AssignmentStatusPrepared
}

func statusToRemote(status record.AssignmentStatus) string {
	if value, ok := statusToRemoteValues[status]; ok {
		return value
	}
	return string(status)
}

func decodeAssignments(body []byte) ([]record.Assignment, error) {
	var payloads []assignmentPayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, err
	}

	assignments := make([]record.Assignment, 0, len(payloads))
	for _, payload := range payloads {
		assignment := record.Assignment{
			ID:           payload.ID,
			Title:        payload.Title,
			Description:  payload.Description,
			Status:       statusFromRemote(payload.Status),
			StartsAt:     payload.StartsAt,
			EndsAt:       payload.EndsAt,
			AssigneeName: payload.AssigneeName,
			CreatorName:  payload.CreatorName,
		}
		if err := assignment.SetLocations(toPlaceRefs(payload.Locations)); err != nil {
			return nil, err
		}
		if err := assignment.SetBuildings(toPlaceRefs(payload.Buildings)); err != nil {
			return nil, err
		}
		for _, linkPayload := range payload.AssetLinks {
			link := record.AssetLink{
				ID:              linkPayload.ID,
				AssignmentID:    payload.ID,
				AssetID:         linkPayload.AssetID,
				Visible:         linkPayload.Visible,
				SearchMode:      linkPayload.SearchMode,
				Notes:           linkPayload.Notes,
				Processed:       linkPayload.Processed,
				ProcessedAt:     linkPayload.ProcessedAt,
				Name:            linkPayload.Name,
				AssetNumber:     linkPayload.AssetNumber,
				ReferenceCode:   linkPayload.ReferenceCode,
				Status:          linkPayload.Status,
				ConditionRating: linkPayload.ConditionRating,
				Description:     linkPayload.Description,
				PendingJSON:     "{}",
			}
			if err := link.SetAttributes(linkPayload.Attributes); err != nil {
				return nil, err
			}
			assignment.AssetLinks = append(assignment.AssetLinks, link)
		}
		assignments = append(assignments, assignment)
	}
	return assignments, nil
}

func toPlaceRefs(payloads []placePayload) []record.PlaceRef {
	refs := make([]record.PlaceRef, 0, len(payloads))
	for _, payload := range payloads {
		refs = append(refs, record.PlaceRef{ID: payload.ID, Name: payload.Name})
	}
	return refs
}

func decodeReferenceCodes(body []byte) ([]record.ReferenceCode, error) {
	var payloads []referenceCodePayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, err
	}

	codes := make([]record.ReferenceCode, 0, len(payloads))
	for _, payload := range payloads {
		codes = append(codes, record.ReferenceCode{
			Code:                payload.Code,
			Name:                payload.Name,
			Description:         payload.Description,
			Level:               payload.Level,
			ParentCode:          payload.ParentCode,
			IsCategory:          payload.IsCategory,
			MaintenanceInterval: payload.MaintenanceInterval,
		})
	}
	return codes, nil
}
