package constants

const (
	GetDataPointCurrentValue = `
	SELECT point_id, current_value, value_type, quality_code, value_timestamp
	FROM current_values
	WHERE point_id = $1
	`

	GetSiteForTenant = `
	SELECT id FROM sites WHERE id = $1 AND tenant_id = $2
	`

	GetDeviceSite = `
	SELECT site_id FROM devices WHERE id = $1 AND tenant_id = $2
	`
)
