package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// listEnvelope is the Graph collection wrapper. Helpers request a page large
// enough for the tenants this service targets; paging past $top=999 is not
// followed.
type listEnvelope[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

const defaultTop = 999

// Organization is a directory organization profile.
type Organization struct {
	ID              string           `json:"id"`
	DisplayName     string           `json:"displayName"`
	VerifiedDomains []VerifiedDomain `json:"verifiedDomains"`
}

// VerifiedDomain is a verified DNS domain of an organization.
type VerifiedDomain struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// User is a directory user, trimmed to the fields checkers read.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	AccountEnabled    bool   `json:"accountEnabled"`
	UserType          string `json:"userType"`
}

// AuthenticationMethod is one registered authentication method of a user.
// The concrete kind is carried in the @odata.type discriminator.
type AuthenticationMethod struct {
	ODataType string `json:"@odata.type"`
	ID        string `json:"id"`
}

// IsMFACapable reports whether the method satisfies an MFA requirement.
// Password methods do not; everything else (authenticator, FIDO2, phone,
// Windows Hello, software OATH) does.
func (m AuthenticationMethod) IsMFACapable() bool {
	switch m.ODataType {
	case "#microsoft.graph.passwordAuthenticationMethod",
		"#microsoft.graph.temporaryAccessPassAuthenticationMethod":
		return false
	}
	return m.ODataType != ""
}

// DirectoryRole is an activated directory role.
type DirectoryRole struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	RoleTemplateID string `json:"roleTemplateId"`
}

// GlobalAdministratorTemplateID is the well-known Global Administrator role
// template.
const GlobalAdministratorTemplateID = "62e90394-69f5-4237-9190-012177145e10"

// DirectoryObject is a minimally-typed member of a directory role.
type DirectoryObject struct {
	ODataType         string `json:"@odata.type"`
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// ConditionalAccessPolicy is an Entra conditional access policy.
type ConditionalAccessPolicy struct {
	ID            string          `json:"id"`
	DisplayName   string          `json:"displayName"`
	State         string          `json:"state"`
	Conditions    CAConditions    `json:"conditions"`
	GrantControls CAGrantControls `json:"grantControls"`
}

// CAConditions carries the policy scoping conditions checkers inspect.
type CAConditions struct {
	Users          CAUsers        `json:"users"`
	Applications   CAApplications `json:"applications"`
	ClientAppTypes []string       `json:"clientAppTypes"`
}

// CAUsers scopes a policy to users.
type CAUsers struct {
	IncludeUsers []string `json:"includeUsers"`
	ExcludeUsers []string `json:"excludeUsers"`
	IncludeRoles []string `json:"includeRoles"`
}

// CAApplications scopes a policy to applications.
type CAApplications struct {
	IncludeApplications []string `json:"includeApplications"`
}

// CAGrantControls carries the controls a policy enforces.
type CAGrantControls struct {
	Operator        string   `json:"operator"`
	BuiltInControls []string `json:"builtInControls"`
}

// RequiresMFA reports whether the policy grants access only with MFA.
func (p ConditionalAccessPolicy) RequiresMFA() bool {
	for _, c := range p.GrantControls.BuiltInControls {
		if c == "mfa" {
			return true
		}
	}
	return false
}

// Enabled reports whether the policy is enforced (not report-only/disabled).
func (p ConditionalAccessPolicy) Enabled() bool {
	return p.State == "enabled"
}

// Application is an app registration, trimmed to review-relevant fields.
type Application struct {
	ID                     string                   `json:"id"`
	AppID                  string                   `json:"appId"`
	DisplayName            string                   `json:"displayName"`
	CreatedDateTime        string                   `json:"createdDateTime"`
	RequiredResourceAccess []RequiredResourceAccess `json:"requiredResourceAccess"`
}

// RequiredResourceAccess is one resource an application requests access to.
type RequiredResourceAccess struct {
	ResourceAppID  string           `json:"resourceAppId"`
	ResourceAccess []ResourceAccess `json:"resourceAccess"`
}

// ResourceAccess is one permission (role or scope) on a resource.
type ResourceAccess struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func getList[T any](ctx context.Context, c Caller, path string, query url.Values) ([]T, error) {
	raw, err := c.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	var env listEnvelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return env.Value, nil
}

// GetOrganization fetches the tenant's organization profiles.
func GetOrganization(ctx context.Context, c Caller) ([]Organization, error) {
	return getList[Organization](ctx, c, "organization", nil)
}

// ListUsers fetches up to top directory users with the given $select fields.
func ListUsers(ctx context.Context, c Caller, selectFields string, top int) ([]User, error) {
	q := url.Values{}
	if selectFields != "" {
		q.Set("$select", selectFields)
	}
	if top <= 0 {
		top = defaultTop
	}
	q.Set("$top", strconv.Itoa(top))
	return getList[User](ctx, c, "users", q)
}

// ListAuthenticationMethods fetches a user's registered auth methods.
func ListAuthenticationMethods(ctx context.Context, c Caller, userID string) ([]AuthenticationMethod, error) {
	return getList[AuthenticationMethod](ctx, c, "users/"+url.PathEscape(userID)+"/authentication/methods", nil)
}

// ListDirectoryRoles fetches the activated directory roles.
func ListDirectoryRoles(ctx context.Context, c Caller) ([]DirectoryRole, error) {
	return getList[DirectoryRole](ctx, c, "directoryRoles", nil)
}

// ListDirectoryRoleMembers fetches the members of a directory role.
func ListDirectoryRoleMembers(ctx context.Context, c Caller, roleID string) ([]DirectoryObject, error) {
	return getList[DirectoryObject](ctx, c, "directoryRoles/"+url.PathEscape(roleID)+"/members", nil)
}

// ListConditionalAccessPolicies fetches all conditional access policies.
func ListConditionalAccessPolicies(ctx context.Context, c Caller) ([]ConditionalAccessPolicy, error) {
	return getList[ConditionalAccessPolicy](ctx, c, "identity/conditionalAccess/policies", nil)
}

// ListApplications fetches app registrations with review-relevant fields.
func ListApplications(ctx context.Context, c Caller) ([]Application, error) {
	q := url.Values{}
	q.Set("$select", "id,appId,displayName,createdDateTime,requiredResourceAccess")
	return getList[Application](ctx, c, "applications", q)
}
