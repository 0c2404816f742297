// README: Task handlers: create/update/list, claim protocol, ledger, contact info.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shinua/internal/auth"
	"shinua/internal/geo"
	"shinua/internal/http/middleware"
	"shinua/internal/types"

	"shinua/internal/modules/task"
)

type TaskHandler struct {
	tasks *task.Service
}

func NewTaskHandler(svc *task.Service) *TaskHandler {
	return &TaskHandler{tasks: svc}
}

type taskPayload struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Category      *string `json:"category"`
	Urgency       *string `json:"urgency"`
	EventDate     *string `json:"eventDate"` // "2006-01-02"
	StartTime     *string `json:"startTime"` // "15:04"
	RelevantHours *int    `json:"relevantHours"`

	Address            *string     `json:"address"`
	AddressApiResult   *geo.Result `json:"addressApiResult"`
	ToAddress          *string     `json:"toAddress"`
	ToAddressApiResult *geo.Result `json:"toAddressApiResult"`

	Phone1                     *string `json:"phone1"`
	Phone1Description          *string `json:"phone1Description"`
	Phone2                     *string `json:"phone2"`
	Phone2Description          *string `json:"phone2Description"`
	ToPhone1                   *string `json:"toPhone1"`
	ToPhone1Description        *string `json:"toPhone1Description"`
	ToPhone2                   *string `json:"toPhone2"`
	ToPhone2Description        *string `json:"toPhone2Description"`
	RequesterPhone1            *string `json:"requesterPhone1"`
	RequesterPhone1Description *string `json:"requesterPhone1Description"`

	ImageID                 *string `json:"imageId"`
	InternalComments        *string `json:"internalComments"`
	ResponsibleDispatcherID *string `json:"responsibleDispatcherId"`

	CreateUserID *string `json:"createUserId"`
	DriverID     *string `json:"driverId"`
}

type statusView struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
	Color   string `json:"color"`
}

type taskView struct {
	ID                         string      `json:"id"`
	ExternalID                 string      `json:"externalId"`
	Title                      string      `json:"title"`
	Description                string      `json:"description"`
	Category                   string      `json:"category"`
	Urgency                    string      `json:"urgency"`
	TaskStatus                 statusView  `json:"taskStatus"`
	StatusChangeDate           time.Time   `json:"statusChangeDate"`
	StatusNotes                string      `json:"statusNotes"`
	EventDate                  string      `json:"eventDate"`
	StartTime                  string      `json:"startTime"`
	RelevantHours              int         `json:"relevantHours"`
	ValidUntil                 time.Time   `json:"validUntil"`
	Address                    string      `json:"address"`
	OriginCity                 string      `json:"originCity"`
	ToAddress                  string      `json:"toAddress"`
	DestinationCity            string      `json:"destinationCity"`
	Phone1                     string      `json:"phone1,omitempty"`
	Phone1Description          string      `json:"phone1Description,omitempty"`
	Phone2                     string      `json:"phone2,omitempty"`
	Phone2Description          string      `json:"phone2Description,omitempty"`
	ToPhone1                   string      `json:"toPhone1,omitempty"`
	ToPhone1Description        string      `json:"toPhone1Description,omitempty"`
	ToPhone2                   string      `json:"toPhone2,omitempty"`
	ToPhone2Description        string      `json:"toPhone2Description,omitempty"`
	RequesterPhone1            string      `json:"requesterPhone1,omitempty"`
	RequesterPhone1Description string      `json:"requesterPhone1Description,omitempty"`
	ImageID                    string      `json:"imageId,omitempty"`
	InternalComments           string      `json:"internalComments,omitempty"`
	DriverID                   string      `json:"driverId"`
	CreateUserID               string      `json:"createUserId,omitempty"`
	CreatedAt                  time.Time   `json:"createdAt"`
}

func viewOf(t *task.Task) taskView {
	return taskView{
		ID:          string(t.ID),
		ExternalID:  t.ExternalID,
		Title:       t.Title,
		Description: t.Description,
		Category:    t.Category,
		Urgency:     string(t.Urgency),
		TaskStatus: statusView{
			ID:      string(t.TaskStatus),
			Caption: t.TaskStatus.Caption(),
			Color:   t.TaskStatus.Color(),
		},
		StatusChangeDate:           t.StatusChangeDate,
		StatusNotes:                t.StatusNotes,
		EventDate:                  t.EventDate.Format("2006-01-02"),
		StartTime:                  t.StartTime,
		RelevantHours:              t.RelevantHours,
		ValidUntil:                 t.ValidUntil,
		Address:                    t.Address,
		OriginCity:                 geo.City(t.AddressApiResult, t.Address),
		ToAddress:                  t.ToAddress,
		DestinationCity:            geo.City(t.ToAddressApiResult, t.ToAddress),
		Phone1:                     t.Phone1,
		Phone1Description:          t.Phone1Description,
		Phone2:                     t.Phone2,
		Phone2Description:          t.Phone2Description,
		ToPhone1:                   t.ToPhone1,
		ToPhone1Description:        t.ToPhone1Description,
		ToPhone2:                   t.ToPhone2,
		ToPhone2Description:        t.ToPhone2Description,
		RequesterPhone1:            t.RequesterPhone1,
		RequesterPhone1Description: t.RequesterPhone1Description,
		ImageID:                    t.ImageID,
		InternalComments:           t.InternalComments,
		DriverID:                   t.DriverID,
		CreateUserID:               t.CreateUserID,
		CreatedAt:                  t.CreatedAt,
	}
}

func (h *TaskHandler) Create(c *gin.Context) {
	var req taskPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := task.CreateCommand{}
	str := func(p *string) string {
		if p != nil {
			return *p
		}
		return ""
	}
	cmd.Title = str(req.Title)
	cmd.Description = str(req.Description)
	cmd.Category = str(req.Category)
	cmd.Urgency = task.Urgency(str(req.Urgency))
	cmd.StartTime = str(req.StartTime)
	if req.RelevantHours != nil {
		cmd.RelevantHours = *req.RelevantHours
	}
	if req.EventDate != nil {
		d, err := time.Parse("2006-01-02", *req.EventDate)
		if err != nil {
			writeError(c, http.StatusBadRequest, "bad eventDate")
			return
		}
		cmd.EventDate = d
	}
	cmd.Address = str(req.Address)
	cmd.AddressApiResult = req.AddressApiResult
	cmd.ToAddress = str(req.ToAddress)
	cmd.ToAddressApiResult = req.ToAddressApiResult
	cmd.Phone1 = str(req.Phone1)
	cmd.Phone1Description = str(req.Phone1Description)
	cmd.Phone2 = str(req.Phone2)
	cmd.Phone2Description = str(req.Phone2Description)
	cmd.ToPhone1 = str(req.ToPhone1)
	cmd.ToPhone1Description = str(req.ToPhone1Description)
	cmd.ToPhone2 = str(req.ToPhone2)
	cmd.ToPhone2Description = str(req.ToPhone2Description)
	cmd.RequesterPhone1 = str(req.RequesterPhone1)
	cmd.RequesterPhone1Description = str(req.RequesterPhone1Description)
	cmd.ImageID = str(req.ImageID)
	cmd.InternalComments = str(req.InternalComments)
	cmd.ResponsibleDispatcherID = str(req.ResponsibleDispatcherID)

	t, err := h.tasks.Create(c.Request.Context(), middleware.Actor(c), cmd)
	if err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(t))
}

func (h *TaskHandler) Update(c *gin.Context) {
	var req taskPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := task.UpdateCommand{
		Title:                      req.Title,
		Description:                req.Description,
		Category:                   req.Category,
		StartTime:                  req.StartTime,
		RelevantHours:              req.RelevantHours,
		Address:                    req.Address,
		AddressApiResult:           req.AddressApiResult,
		ToAddress:                  req.ToAddress,
		ToAddressApiResult:         req.ToAddressApiResult,
		Phone1:                     req.Phone1,
		Phone1Description:          req.Phone1Description,
		Phone2:                     req.Phone2,
		Phone2Description:          req.Phone2Description,
		ToPhone1:                   req.ToPhone1,
		ToPhone1Description:        req.ToPhone1Description,
		ToPhone2:                   req.ToPhone2,
		ToPhone2Description:        req.ToPhone2Description,
		RequesterPhone1:            req.RequesterPhone1,
		RequesterPhone1Description: req.RequesterPhone1Description,
		ImageID:                    req.ImageID,
		InternalComments:           req.InternalComments,
		ResponsibleDispatcherID:    req.ResponsibleDispatcherID,
		CreateUserID:               req.CreateUserID,
		DriverID:                   req.DriverID,
	}
	if req.Urgency != nil {
		u := task.Urgency(*req.Urgency)
		cmd.Urgency = &u
	}
	if req.EventDate != nil {
		d, err := time.Parse("2006-01-02", *req.EventDate)
		if err != nil {
			writeError(c, http.StatusBadRequest, "bad eventDate")
			return
		}
		cmd.EventDate = &d
	}
	t, err := h.tasks.Update(c.Request.Context(), middleware.Actor(c), types.ID(c.Param("id")), cmd)
	if err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

func (h *TaskHandler) Get(c *gin.Context) {
	t, err := h.tasks.Get(c.Request.Context(), middleware.Actor(c), types.ID(c.Param("id")))
	if err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

func (h *TaskHandler) List(c *gin.Context) {
	tasks, err := h.tasks.List(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		writeTaskError(c, err)
		return
	}
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, viewOf(t))
	}
	c.JSON(http.StatusOK, out)
}

type claimReq struct {
	DriverID string `json:"driverId"`
}

func (h *TaskHandler) Claim(c *gin.Context) {
	var req claimReq
	// Body is optional: no body means self-claim.
	_ = c.ShouldBindJSON(&req)
	info, err := h.tasks.Claim(c.Request.Context(), middleware.Actor(c), types.ID(c.Param("id")), req.DriverID)
	if err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type notesReq struct {
	Notes string `json:"notes"`
}

func (h *TaskHandler) Release(c *gin.Context) {
	var req notesReq
	_ = c.ShouldBindJSON(&req)
	h.simpleOp(c, h.tasks.Release, req.Notes)
}

func (h *TaskHandler) MarkNotRelevant(c *gin.Context) {
	var req notesReq
	_ = c.ShouldBindJSON(&req)
	h.simpleOp(c, h.tasks.MarkNotRelevant, req.Notes)
}

func (h *TaskHandler) MarkOtherProblem(c *gin.Context) {
	var req notesReq
	_ = c.ShouldBindJSON(&req)
	h.simpleOp(c, h.tasks.MarkOtherProblem, req.Notes)
}

func (h *TaskHandler) MarkCompleted(c *gin.Context) {
	var req notesReq
	_ = c.ShouldBindJSON(&req)
	h.simpleOp(c, h.tasks.MarkCompleted, req.Notes)
}

func (h *TaskHandler) UndoStatusClick(c *gin.Context) {
	h.noArgOp(c, h.tasks.UndoStatusClick)
}

func (h *TaskHandler) ReturnToDriver(c *gin.Context) {
	h.noArgOp(c, h.tasks.ReturnToDriver)
}

func (h *TaskHandler) ReturnToActive(c *gin.Context) {
	h.noArgOp(c, h.tasks.ReturnToActive)
}

func (h *TaskHandler) MarkDraft(c *gin.Context) {
	h.noArgOp(c, h.tasks.MarkDraft)
}

func (h *TaskHandler) ContactInfo(c *gin.Context) {
	info, err := h.tasks.GetContactInfo(c.Request.Context(), middleware.Actor(c), types.ID(c.Param("id")))
	if err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type historyView struct {
	What        string    `json:"what"`
	EventStatus string    `json:"eventStatus"`
	Notes       string    `json:"notes"`
	DriverID    string    `json:"driverId"`
	CreateUser  string    `json:"createUserId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h *TaskHandler) History(c *gin.Context) {
	changes, err := h.tasks.History(c.Request.Context(), middleware.Actor(c), types.ID(c.Param("id")))
	if err != nil {
		writeTaskError(c, err)
		return
	}
	out := make([]historyView, 0, len(changes))
	for _, ch := range changes {
		out = append(out, historyView{
			What:        ch.What,
			EventStatus: string(ch.EventStatus),
			Notes:       ch.Notes,
			DriverID:    ch.DriverID,
			CreateUser:  ch.CreateUserID,
			CreatedAt:   ch.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *TaskHandler) simpleOp(c *gin.Context, op func(context.Context, auth.Context, types.ID, string) error, notes string) {
	if err := op(c.Request.Context(), middleware.Actor(c), types.ID(c.Param("id")), notes); err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *TaskHandler) noArgOp(c *gin.Context, op func(context.Context, auth.Context, types.ID) error) {
	if err := op(c.Request.Context(), middleware.Actor(c), types.ID(c.Param("id"))); err != nil {
		writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
